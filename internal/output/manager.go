package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type DownloadOutput struct {
	ID          string
	URL         string
	Status      string
	Message     string
	Downloaded  int64
	Total       int64
	Speed       int64
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
	Index       int
}

type ErrorReport struct {
	URL   string
	Error error
	Time  time.Time
}

// Manager redraws the state of every registered download on a ticker and
// prints a summary when stopped.
type Manager struct {
	outputs     map[string]*DownloadOutput
	mutex       sync.RWMutex
	out         io.Writer
	numLines    int
	errors      []ErrorReport
	paused      bool
	doneCh      chan struct{}
	displayTick time.Duration
	count       int
	displayWg   sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		outputs:     make(map[string]*DownloadOutput),
		out:         os.Stdout,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

// SetWriter changes where the display is drawn. Call before StartDisplay.
func (m *Manager) SetWriter(w io.Writer) {
	m.out = w
}

func (m *Manager) Register(id, url string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.count++
	m.outputs[id] = &DownloadOutput{
		ID:          id,
		URL:         url,
		Status:      StatusPending,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		Index:       m.count,
	}
}

func (m *Manager) SetMessage(id, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Message = message
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) GetStatus(id string) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.outputs[id]; exists {
		return info.Status
	}
	return "unknown"
}

func (m *Manager) UpdateProgress(id string, downloaded, total, speed int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		if info.Status == StatusPending {
			info.Status = StatusActive
		}
		info.Downloaded = downloaded
		info.Total = total
		info.Speed = speed
		info.LastUpdated = time.Now()
	}
}

// SetPaused marks every unfinished download as paused or active.
func (m *Manager) SetPaused(paused bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.paused = paused
	for _, info := range m.outputs {
		if info.Complete || info.Status == StatusPending {
			continue
		}
		if paused {
			info.Status = StatusPaused
		} else {
			info.Status = StatusActive
		}
	}
}

func (m *Manager) Complete(id, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		if message == "" {
			info.Message = fmt.Sprintf("Completed %s", info.URL)
		} else {
			info.Message = message
		}
		info.Complete = true
		info.Status = StatusSuccess
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		info.Complete = true
		info.Status = StatusError
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.URL)
		info.LastUpdated = time.Now()
		m.errors = append(m.errors, ErrorReport{
			URL:   info.URL,
			Error: err,
			Time:  time.Now(),
		})
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	case StatusPaused:
		return warningStyle.Render(StyleSymbols["paused"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(message)
	case StatusError:
		return errorStyle.Render(message)
	case StatusPaused:
		return warningStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

func (m *Manager) sortDownloads() (active, pending, completed []*DownloadOutput) {
	var all []*DownloadOutput
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, d := range all {
		switch {
		case d.Complete:
			completed = append(completed, d)
		case d.Status == StatusPending:
			pending = append(pending, d)
		default:
			active = append(active, d)
		}
	}
	return active, pending, completed
}

// render draws the current state and returns the number of lines written.
func (m *Manager) render(w io.Writer, availableLines int) int {
	lineCount := 0
	active, pending, completed := m.sortDownloads()

	if m.paused && lineCount < availableLines {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", 2), warningStyle.Render(StyleSymbols["paused"]+" Paused, enter r to resume"))
		lineCount++
	}
	for _, d := range active {
		if lineCount >= availableLines {
			break
		}
		elapsed := time.Since(d.StartTime).Round(time.Second)
		fmt.Fprintf(w, "%s%s %s %s\n", strings.Repeat(" ", 2), m.GetStatusIndicator(d.Status), debugStyle.Render(elapsed.String()), styleMessage(d.Status, d.Message))
		lineCount++
		if lineCount < availableLines {
			line := ProgressLine(d.Downloaded, d.Total, d.Speed, d.Status == StatusPaused)
			fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", 2+4), streamStyle.Render(line))
			lineCount++
		}
	}
	for _, d := range pending {
		if lineCount >= availableLines {
			break
		}
		fmt.Fprintf(w, "%s%s %s\n", strings.Repeat(" ", 2), m.GetStatusIndicator(d.Status), pendingStyle.Render("Waiting..."))
		lineCount++
	}
	if len(completed) > 10 && lineCount < availableLines {
		fmt.Fprintf(w, "%s\n", infoStyle.Render(fmt.Sprintf("%s%d downloads finished earlier ...", strings.Repeat(" ", 2), len(completed)-8)))
		completed = completed[len(completed)-8:]
		lineCount++
	}
	for _, d := range completed {
		if lineCount >= availableLines {
			break
		}
		total := d.LastUpdated.Sub(d.StartTime).Round(time.Second)
		fmt.Fprintf(w, "%s%s %s %s\n", strings.Repeat(" ", 2), m.GetStatusIndicator(d.Status), debugStyle.Render(total.String()), styleMessage(d.Status, d.Message))
		lineCount++
	}
	return lineCount
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	m.numLines = m.render(m.out, terminalHeight()-3)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors(w io.Writer) {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, report := range m.errors {
		fmt.Fprintf(w, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("URL: %s", report.URL)))
		fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	var success, failures int
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			success++
		case StatusError:
			failures++
		}
	}
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	m.displayErrors(m.out)
	fmt.Fprintln(m.out)
}
