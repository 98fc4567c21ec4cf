package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangedl/internal/utils"
)

const (
	DefaultMaxRedirects       = 1
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultPausedPollInterval = time.Second
)

// ProgressFunc receives cumulative bytes, the total size and the speed over
// the last polling interval, in bytes per second.
type ProgressFunc func(downloaded, total, speed int64)

type Options struct {
	URL         string
	OutputPath  string // inferred from the response or URL when empty
	Connections int
	SpeedLimit  int64 // overall bytes per second, 0 = unlimited

	// MaxRedirects bounds redirect hops during the size probe. Zero means
	// DefaultMaxRedirects, negative means none.
	MaxRedirects int

	// ReconnectAfterPause lets a worker whose stream ended around a pause
	// issue a new range request for the rest of its range once resumed.
	// Without it such a worker stops short and the job fails on resume.
	ReconnectAfterPause bool

	// ClaimPath, when set, is handed the resolved output path before any
	// file is written and returns the path to use instead. Callers running
	// several downloads use it to keep them off each other's files.
	ClaimPath func(path string) string

	// StartPaused, when set and true at the start of Run, parks the workers
	// on the gate before the first byte is read.
	StartPaused func() bool

	PollInterval       time.Duration
	PausedPollInterval time.Duration
	Progress           ProgressFunc
	Client             *utils.HTTPClient
}

func (o Options) withDefaults() Options {
	if o.Connections < 1 {
		o.Connections = 1
	}
	if o.SpeedLimit < 0 {
		o.SpeedLimit = 0
	}
	switch {
	case o.MaxRedirects == 0:
		o.MaxRedirects = DefaultMaxRedirects
	case o.MaxRedirects < 0:
		o.MaxRedirects = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PausedPollInterval <= 0 {
		o.PausedPollInterval = DefaultPausedPollInterval
	}
	if o.Client == nil {
		o.Client = utils.NewHTTPClient(utils.HTTPClientConfig{})
	}
	return o
}

// Job describes one download once the source size is known.
type Job struct {
	URL         string
	OutputPath  string
	TotalSize   int64
	SpeedLimit  int64
	Connections int
}

// Downloader fetches one URL in parallel byte ranges and merges them into
// the output file. Pause, Resume and UpdateSpeedLimit may be called from any
// goroutine while Run is in progress.
type Downloader struct {
	opts       Options
	gate       *PauseGate
	speedLimit atomic.Int64
	log        zerolog.Logger

	mu      sync.Mutex
	active  bool
	job     *Job
	workers []*FetchWorker
}

func New(opts Options) *Downloader {
	opts = opts.withDefaults()
	d := &Downloader{
		opts: opts,
		gate: NewPauseGate(),
		log:  utils.GetLogger("downloader").With().Str("url", opts.URL).Logger(),
	}
	d.speedLimit.Store(opts.SpeedLimit)
	return d
}

// Pause stops every worker at its next block. No-op when nothing runs.
func (d *Downloader) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.gate.Pause()
	d.log.Debug().Msg("Pause requested")
}

func (d *Downloader) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate.Resume()
	d.log.Debug().Msg("Resume requested")
}

func (d *Downloader) Paused() bool {
	return d.gate.Paused()
}

// UpdateSpeedLimit sets a new overall cap and splits it across the workers
// that are still running. The cap is also kept for a later Run.
func (d *Downloader) UpdateSpeedLimit(bps int64) {
	d.speedLimit.Store(max(bps, 0))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushSpeedLimit()
}

// pushSpeedLimit requires d.mu.
func (d *Downloader) pushSpeedLimit() {
	if !d.active || len(d.workers) == 0 {
		return
	}
	perWorker := perWorkerLimit(d.speedLimit.Load(), len(d.workers))
	for _, w := range d.workers {
		if w.Snapshot().Status == StatusRunning {
			w.SetSpeedLimit(perWorker)
		}
	}
	d.log.Debug().Int64("perWorker", perWorker).Int("workers", len(d.workers)).Msg("Speed limit propagated")
}

func perWorkerLimit(overall int64, workers int) int64 {
	if overall <= 0 || workers <= 0 {
		return 0
	}
	return max(overall/int64(workers), 1)
}

// Job returns the resolved job, or nil before the probe finished.
func (d *Downloader) Job() *Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.job == nil {
		return nil
	}
	job := *d.job
	return &job
}

// Workers returns snapshots of the current run's workers in range order.
func (d *Downloader) Workers() []WorkerSnapshot {
	d.mu.Lock()
	workers := d.workers
	d.mu.Unlock()
	snaps := make([]WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		snaps = append(snaps, w.Snapshot())
	}
	return snaps
}

func (d *Downloader) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return false
	}
	d.active = true
	d.job = nil
	d.workers = nil
	if d.opts.StartPaused != nil && d.opts.StartPaused() {
		d.gate.Pause()
	}
	return true
}

func (d *Downloader) finish() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	// release anything still parked on the gate
	d.gate.Resume()
}

func (d *Downloader) emit(downloaded, total, speed int64) {
	if d.opts.Progress != nil {
		d.opts.Progress(downloaded, total, speed)
	}
}

// Run downloads the source to the output path. Any failure leaves no
// output file behind and removes every part file.
func (d *Downloader) Run(ctx context.Context) error {
	if !d.begin() {
		return errors.New("download already running")
	}
	defer d.finish()

	info, err := Probe(ctx, d.opts.Client, d.opts.URL, d.opts.MaxRedirects)
	if err != nil {
		return stageError(StageProbe, err)
	}
	outputPath := d.opts.OutputPath
	if outputPath == "" {
		outputPath = info.FileName
		if outputPath == "" {
			outputPath = utils.FileNameFromURL(info.URL)
		}
		if _, err := os.Stat(outputPath); err == nil {
			outputPath = utils.RenewOutputPath(outputPath)
		}
	}
	if d.opts.ClaimPath != nil {
		outputPath = d.opts.ClaimPath(outputPath)
	}
	job := &Job{
		URL:         info.URL,
		OutputPath:  outputPath,
		TotalSize:   info.Size,
		SpeedLimit:  d.speedLimit.Load(),
		Connections: EffectiveWorkers(info.Size, d.opts.Connections),
	}
	d.mu.Lock()
	d.job = job
	d.mu.Unlock()
	log := d.log.With().Str("output", job.OutputPath).Int64("size", job.TotalSize).Logger()

	if job.TotalSize == 0 {
		file, err := os.Create(job.OutputPath)
		if err != nil {
			return stageError(StageMerge, fmt.Errorf("%w: creating empty file: %v", ErrMerge, err))
		}
		file.Close()
		d.emit(0, 0, 0)
		log.Info().Msg("Empty file created")
		return nil
	}

	ranges := Partition(job.TotalSize, d.opts.Connections)
	if len(ranges) != d.opts.Connections {
		log.Debug().Int("requested", d.opts.Connections).Int("effective", len(ranges)).Msg("Adjusted worker count")
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	perWorker := perWorkerLimit(job.SpeedLimit, len(ranges))
	workers := make([]*FetchWorker, len(ranges))
	for i, r := range ranges {
		workers[i] = newFetchWorker(workerConfig{
			part:       i,
			rng:        r,
			url:        job.URL,
			partPath:   utils.PartFilePath(job.OutputPath, i),
			speedLimit: perWorker,
			reconnect:  d.opts.ReconnectAfterPause,
			client:     d.opts.Client,
			gate:       d.gate,
		})
	}
	d.mu.Lock()
	d.workers = workers
	// a limit update may have landed between reading the cap and publishing the workers
	d.pushSpeedLimit()
	d.mu.Unlock()

	log.Info().Int("workers", len(workers)).Int64("perWorkerLimit", perWorker).Msg("Starting download")
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *FetchWorker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}

	if err := d.monitor(ctx, job, workers); err != nil {
		cancel(err)
		wg.Wait()
		removeParts(workers)
		log.Error().Err(err).Msg("Download failed")
		return err
	}
	wg.Wait()

	parts := make([]string, len(workers))
	for i, w := range workers {
		parts[i] = w.partPath
	}
	if _, err := Merge(parts, job.OutputPath, job.TotalSize); err != nil {
		return stageError(StageMerge, err)
	}
	d.emit(job.TotalSize, job.TotalSize, 0)
	log.Info().Msg("Download completed")
	return nil
}

// monitor polls the workers until all of them succeeded or one failed.
func (d *Downloader) monitor(ctx context.Context, job *Job, workers []*FetchWorker) error {
	lastBytes := make([]int64, len(workers))
	lastTick := time.Now()
	timer := time.NewTimer(d.opts.PollInterval)
	defer timer.Stop()
	for {
		if d.gate.Paused() {
			d.gate.WaitTimeout(ctx, d.opts.PausedPollInterval)
		}
		select {
		case <-ctx.Done():
			return &DownloadError{Stage: StageFetch, Part: -1, Err: fmt.Errorf("%w: %v", ErrInterrupted, context.Cause(ctx))}
		case <-timer.C:
			timer.Reset(d.opts.PollInterval)
		}

		var total, delta int64
		done := true
		for i, w := range workers {
			snap := w.Snapshot()
			total += snap.Downloaded
			delta += snap.Downloaded - lastBytes[i]
			lastBytes[i] = snap.Downloaded
			switch snap.Status {
			case StatusFailed:
				return &DownloadError{Stage: StageFetch, Part: snap.Part, Range: &snap.Range, Err: snap.Err}
			case StatusPausedIncomplete:
				if !d.gate.Paused() {
					err := fmt.Errorf("%w: stopped at %d of %d bytes during a pause", ErrIncompleteTransfer, snap.Downloaded, snap.Range.Len())
					return &DownloadError{Stage: StageFetch, Part: snap.Part, Range: &snap.Range, Err: err}
				}
				done = false
			case StatusRunning:
				done = false
			}
		}

		now := time.Now()
		var speed int64
		if interval := now.Sub(lastTick); interval > 0 {
			speed = int64(float64(delta) / interval.Seconds())
		}
		lastTick = now
		if limit := d.speedLimit.Load(); limit > 0 {
			speed = min(speed, limit)
		}
		d.emit(total, job.TotalSize, speed)

		if done {
			if total != job.TotalSize {
				return &DownloadError{Stage: StageFetch, Part: -1, Err: fmt.Errorf("%w: parts hold %d of %d bytes", ErrIncompleteTransfer, total, job.TotalSize)}
			}
			return nil
		}
	}
}

func removeParts(workers []*FetchWorker) {
	log := utils.GetLogger("cleanup")
	for _, w := range workers {
		if err := os.Remove(w.partPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", w.partPath).Msg("Could not delete part file")
		}
	}
}
