package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	rangehttp "github.com/tanq16/rangedl/internal/downloaders/http"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
	"golang.org/x/sync/errgroup"
)

var ErrJobsFailed = errors.New("one or more downloads failed")

// Scheduler runs download jobs on a bounded pool and relays pause, resume
// and speed limit changes to every download in flight.
type Scheduler struct {
	workers int
	display *output.Manager
	gate    *rangehttp.PauseGate

	// overall cap set at runtime, applied to running and queued jobs
	limit    atomic.Int64
	limitSet atomic.Bool

	mu      sync.Mutex
	active  map[string]*rangehttp.Downloader
	claimed map[string]bool // output paths handed out so far, cleaned
}

// New returns a scheduler running at most workers jobs at once. A nil
// display gets a manager drawing to stdout.
func New(workers int, display *output.Manager) *Scheduler {
	if display == nil {
		display = output.NewManager()
	}
	return &Scheduler{
		workers: max(workers, 1),
		display: display,
		gate:    rangehttp.NewPauseGate(),
		active:  make(map[string]*rangehttp.Downloader),
		claimed: make(map[string]bool),
	}
}

// NewJob fills in an ID and defaults for a job built from a list entry.
func NewJob(entry utils.DownloadEntry, base utils.DownloadJob) (utils.DownloadJob, error) {
	job := base
	job.ID = uuid.NewString()
	job.URL = entry.URL
	job.OutputPath = entry.OutputPath
	if entry.Limit != "" {
		limit, err := utils.ParseSpeed(entry.Limit)
		if err != nil {
			return job, err
		}
		job.SpeedLimit = limit
	}
	if job.Connections < 1 {
		job.Connections = utils.DefaultConnections
	}
	return job, nil
}

// Run downloads every job and returns ErrJobsFailed if any of them failed.
// One failure does not stop the others.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.DownloadJob) error {
	log := utils.GetLogger("scheduler")
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.NewString()
		}
		s.display.Register(jobs[i].ID, jobs[i].URL)
	}
	s.display.StartDisplay()
	defer s.display.StopDisplay()

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := s.runJob(ctx, job); err != nil {
				failed.Add(1)
				log.Error().Err(err).Str("id", job.ID).Str("url", job.URL).Msg("Download failed")
			}
			return nil
		})
	}
	g.Wait()
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%w: %d of %d", ErrJobsFailed, n, len(jobs))
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job utils.DownloadJob) error {
	// hold queued jobs back while paused
	if _, err := s.gate.Wait(ctx); err != nil {
		s.display.ReportError(job.ID, err)
		return err
	}
	if s.limitSet.Load() {
		job.SpeedLimit = s.limit.Load()
	}
	d := rangehttp.New(s.downloaderOptions(job))
	s.track(job.ID, d)
	defer s.untrack(job.ID)

	s.display.SetMessage(job.ID, fmt.Sprintf("Downloading %s", job.URL))
	if err := d.Run(ctx); err != nil {
		s.display.ReportError(job.ID, err)
		return err
	}
	name := job.OutputPath
	if j := d.Job(); j != nil {
		name = j.OutputPath
	}
	s.display.Complete(job.ID, fmt.Sprintf("Completed %s", filepath.Base(name)))
	return nil
}

// downloaderOptions maps a job onto a downloader that reserves its output
// path here and starts paused if a pause landed after the job left the
// queue.
func (s *Scheduler) downloaderOptions(job utils.DownloadJob) rangehttp.Options {
	return rangehttp.Options{
		URL:                 job.URL,
		OutputPath:          job.OutputPath,
		Connections:         job.Connections,
		SpeedLimit:          job.SpeedLimit,
		MaxRedirects:        job.MaxRedirects,
		ReconnectAfterPause: job.Reconnect,
		Client:              utils.NewHTTPClient(job.HTTPClientConfig),
		ClaimPath:           s.claimPath,
		StartPaused:         s.gate.Paused,
		Progress: func(downloaded, total, speed int64) {
			s.display.UpdateProgress(job.ID, downloaded, total, speed)
		},
	}
}

func (s *Scheduler) track(id string, d *rangehttp.Downloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = d
}

func (s *Scheduler) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// claimPath reserves path for one job. A path another job of this scheduler
// already holds gets a numbered suffix instead, so two entries never write
// the same part or output files.
func (s *Scheduler) claimPath(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[filepath.Clean(path)] {
		path = utils.RenewOutputPathExcept(path, func(candidate string) bool {
			return s.claimed[filepath.Clean(candidate)]
		})
		log := utils.GetLogger("scheduler")
		log.Debug().Str("output", path).Msg("Output path in use by another job, renamed")
	}
	s.claimed[filepath.Clean(path)] = true
	return path
}

func (s *Scheduler) each(fn func(*rangehttp.Downloader)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.active {
		fn(d)
	}
}

// Pause suspends every download in flight and holds back queued ones.
func (s *Scheduler) Pause() {
	s.gate.Pause()
	s.each((*rangehttp.Downloader).Pause)
	s.display.SetPaused(true)
}

func (s *Scheduler) Resume() {
	s.gate.Resume()
	s.each((*rangehttp.Downloader).Resume)
	s.display.SetPaused(false)
}

func (s *Scheduler) Paused() bool {
	return s.gate.Paused()
}

// UpdateSpeedLimit sets the cap of every download in flight and of every
// job started afterwards.
func (s *Scheduler) UpdateSpeedLimit(bps int64) {
	s.limit.Store(max(bps, 0))
	s.limitSet.Store(true)
	s.each(func(d *rangehttp.Downloader) { d.UpdateSpeedLimit(bps) })
}

// Active returns the number of downloads in flight.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
