package output

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressBar(t *testing.T) {
	assert.Contains(t, ProgressBar(50, 100, 10), "50.0%")
	assert.Contains(t, ProgressBar(0, 0, 10), "100.0%")
	assert.Contains(t, ProgressBar(500, 100, 10), "100.0%")
	assert.Contains(t, ProgressBar(-5, 100, 10), "0.0%")
	assert.Equal(t, 5, strings.Count(ProgressBar(50, 100, 10), StyleSymbols["hline"]))
}

func TestETA(t *testing.T) {
	assert.Equal(t, "0s", ETA(100, 100, 10))
	assert.Equal(t, "--", ETA(0, 100, 0))
	assert.Equal(t, "10s", ETA(0, 100, 10))
	assert.Equal(t, "2m0s", ETA(0, 1200, 10))
}

func TestProgressLine(t *testing.T) {
	line := ProgressLine(1024, 2048, 512, false)
	assert.Contains(t, line, "1.00 KB / 2.00 KB")
	assert.Contains(t, line, "512 B/s")
	assert.Contains(t, line, "ETA 2s")

	paused := ProgressLine(1024, 2048, 512, true)
	assert.Contains(t, paused, "paused")
	assert.NotContains(t, paused, "ETA")
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	m.Register("a", "https://example.com/a")
	m.Register("b", "https://example.com/b")
	assert.Equal(t, StatusPending, m.GetStatus("a"))
	assert.Equal(t, "unknown", m.GetStatus("missing"))

	m.UpdateProgress("a", 10, 100, 5)
	assert.Equal(t, StatusActive, m.GetStatus("a"))

	m.SetPaused(true)
	assert.Equal(t, StatusPaused, m.GetStatus("a"))
	assert.Equal(t, StatusPending, m.GetStatus("b"), "waiting downloads keep their state")
	m.SetPaused(false)
	assert.Equal(t, StatusActive, m.GetStatus("a"))

	m.Complete("a", "")
	m.ReportError("b", errors.New("boom"))
	assert.Equal(t, StatusSuccess, m.GetStatus("a"))
	assert.Equal(t, StatusError, m.GetStatus("b"))

	m.SetPaused(true)
	assert.Equal(t, StatusSuccess, m.GetStatus("a"), "finished downloads are never paused")
}

func TestManagerRender(t *testing.T) {
	m := NewManager()
	m.Register("a", "https://example.com/a")
	m.SetMessage("a", "Downloading a.bin")
	m.UpdateProgress("a", 512, 1024, 256)
	m.Register("b", "https://example.com/b")
	m.SetPaused(true)

	var buf bytes.Buffer
	lines := m.render(&buf, 50)
	out := buf.String()
	assert.Equal(t, 4, lines)
	assert.Equal(t, 4, strings.Count(out, "\n"))
	assert.Contains(t, out, "Paused")
	assert.Contains(t, out, "Downloading a.bin")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "Waiting...")

	buf.Reset()
	assert.Equal(t, 2, m.render(&buf, 2))
}

func TestStatusIndicator(t *testing.T) {
	m := NewManager()
	for status, symbol := range map[string]string{
		StatusSuccess: "pass",
		StatusError:   "fail",
		StatusPending: "pending",
		StatusPaused:  "paused",
		StatusActive:  "bullet",
	} {
		assert.Contains(t, m.GetStatusIndicator(status), StyleSymbols[symbol], status)
	}
}

func TestManagerSummary(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager()
	m.SetWriter(&buf)
	m.Register("a", "https://example.com/a")
	m.Register("b", "https://example.com/b")
	m.Complete("a", "Completed a.bin")
	m.ReportError("b", errors.New("range request failed"))

	m.StartDisplay()
	m.StopDisplay()
	out := buf.String()
	assert.Contains(t, out, "Completed 1 of 2")
	assert.Contains(t, out, "Failed 1 of 2")
	assert.Contains(t, out, "https://example.com/b")
	assert.Contains(t, out, "range request failed")
}

func TestRedirectLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	restore, err := RedirectLogs(path)
	require.NoError(t, err)
	log.Info().Msg("written to file")
	restore()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}
