package rangehttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/rangedl/internal/utils"
)

// BlockSize is how much of the body a worker reads between pause checks.
const BlockSize = 32 * 1024

var errReadTimeout = errors.New("read timeout")

type Status int32

const (
	StatusRunning Status = iota
	StatusSucceeded
	StatusFailed
	StatusPausedIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusPausedIncomplete:
		return "paused-incomplete"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// WorkerSnapshot is a point-in-time copy of a worker's state.
type WorkerSnapshot struct {
	Part       int
	Range      Range
	Downloaded int64
	Status     Status
	Err        error
	PartPath   string
}

type workerConfig struct {
	part       int
	rng        Range
	url        string
	partPath   string
	speedLimit int64
	reconnect  bool
	client     *utils.HTTPClient
	gate       *PauseGate
}

// FetchWorker downloads one range into its own part file. Its state is
// written only by its own goroutine and read through Snapshot.
type FetchWorker struct {
	part      int
	rng       Range
	url       string
	partPath  string
	reconnect bool
	client    *utils.HTTPClient
	gate      *PauseGate
	limiter   *RateLimiter
	log       zerolog.Logger

	downloaded atomic.Int64
	status     atomic.Int32

	mu      sync.Mutex
	lastErr error
}

func newFetchWorker(cfg workerConfig) *FetchWorker {
	return &FetchWorker{
		part:      cfg.part,
		rng:       cfg.rng,
		url:       cfg.url,
		partPath:  cfg.partPath,
		reconnect: cfg.reconnect,
		client:    cfg.client,
		gate:      cfg.gate,
		limiter:   NewRateLimiter(cfg.speedLimit),
		log:       utils.GetLogger("worker").With().Int("part", cfg.part).Str("range", cfg.rng.String()).Logger(),
	}
}

// SetSpeedLimit is safe to call while the worker runs.
func (w *FetchWorker) SetSpeedLimit(bps int64) {
	w.limiter.SetLimit(bps)
}

func (w *FetchWorker) Snapshot() WorkerSnapshot {
	status := Status(w.status.Load())
	w.mu.Lock()
	err := w.lastErr
	w.mu.Unlock()
	return WorkerSnapshot{
		Part:       w.part,
		Range:      w.rng,
		Downloaded: w.downloaded.Load(),
		Status:     status,
		Err:        err,
		PartPath:   w.partPath,
	}
}

func (w *FetchWorker) fail(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	w.status.Store(int32(StatusFailed))
	w.log.Debug().Err(err).Int64("downloaded", w.downloaded.Load()).Msg("Worker failed")
}

// Run performs the ranged fetch and leaves the worker in a terminal state.
func (w *FetchWorker) Run(ctx context.Context) {
	file, err := os.OpenFile(w.partPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		w.fail(fmt.Errorf("%w: opening part file: %v", ErrRangeRequest, err))
		return
	}
	defer file.Close()

	expected := w.rng.Len()
	for {
		waited, err := w.fetch(ctx, file)
		got := w.downloaded.Load()
		if got == expected {
			w.status.Store(int32(StatusSucceeded))
			w.log.Debug().Int64("bytes", got).Msg("Part completed")
			return
		}
		if errors.Is(err, ErrInterrupted) || ctx.Err() != nil {
			if !errors.Is(err, ErrInterrupted) {
				err = fmt.Errorf("%w: %v", ErrInterrupted, context.Cause(ctx))
			}
			w.fail(err)
			return
		}
		if w.reconnect && (waited || w.gate.Paused()) {
			w.log.Debug().Err(err).Int64("downloaded", got).Msg("Stream ended around a pause, reconnecting after resume")
			if _, werr := w.gate.Wait(ctx); werr != nil {
				w.fail(fmt.Errorf("%w: waiting on pause gate: %v", ErrInterrupted, werr))
				return
			}
			continue
		}
		if err != nil {
			w.fail(err)
			return
		}
		if w.gate.Paused() {
			w.status.Store(int32(StatusPausedIncomplete))
			w.log.Debug().Int64("downloaded", got).Int64("expected", expected).Msg("Stream ended while paused")
			return
		}
		w.fail(fmt.Errorf("%w: expected %d bytes, got %d", ErrIncompleteTransfer, expected, got))
		return
	}
}

// fetch streams one connection's worth of the remaining range into file.
// It reports whether it had to wait on the gate along the way.
func (w *FetchWorker) fetch(ctx context.Context, file *os.File) (bool, error) {
	offset := w.downloaded.Load()
	start := w.rng.Start + offset
	remaining := w.rng.End - start + 1

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, w.url, nil)
	if err != nil {
		return false, fmt.Errorf("%w: creating request: %v", ErrRangeRequest, err)
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, w.rng.End)
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	w.log.Debug().Str("header", rangeHeader).Msg("Sending range request")
	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return false, fmt.Errorf("%w: %v", ErrRangeRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && start == 0 && resp.ContentLength == remaining:
		w.log.Debug().Msg("Server sent full content matching the range")
	default:
		return false, fmt.Errorf("%w: unexpected status code %d", ErrRangeRequest, resp.StatusCode)
	}

	body := newTimeoutReader(resp.Body, w.client.ReadTimeout(), cancel)
	defer body.Stop()
	expected := w.rng.Len()
	buffer := make([]byte, BlockSize)
	waited := false
	for {
		n, readErr := body.Read(buffer)
		if n > 0 {
			didWait, err := w.gate.Wait(ctx)
			waited = waited || didWait
			if err != nil {
				return waited, fmt.Errorf("%w: waiting on pause gate: %v", ErrInterrupted, err)
			}
			current := w.downloaded.Load()
			block := buffer[:n]
			overflow := current+int64(n) > expected
			if overflow {
				w.log.Warn().Int64("received", current+int64(n)).Int64("expected", expected).Msg("Server sent more than the range, trimming")
				block = buffer[:expected-current]
			}
			if _, err := file.WriteAt(block, current); err != nil {
				return waited, fmt.Errorf("%w: writing part file: %v", ErrRangeRequest, err)
			}
			w.downloaded.Add(int64(len(block)))
			if err := w.limiter.Wait(ctx, len(block)); err != nil {
				return waited, fmt.Errorf("%w: throttling: %v", ErrInterrupted, err)
			}
			if overflow {
				return waited, nil
			}
		}
		if readErr == io.EOF {
			return waited, nil
		}
		if readErr != nil {
			switch {
			case errors.Is(context.Cause(reqCtx), errReadTimeout):
				return waited, fmt.Errorf("%w: no data for %s", ErrRangeRequest, w.client.ReadTimeout())
			case ctx.Err() != nil:
				return waited, fmt.Errorf("%w: %v", ErrInterrupted, readErr)
			default:
				return waited, fmt.Errorf("%w: reading body: %v", ErrRangeRequest, readErr)
			}
		}
	}
}

// timeoutReader cancels the request when a single Read blocks longer than
// timeout. Time spent outside Read (pause, throttling) is not counted.
type timeoutReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newTimeoutReader(r io.Reader, timeout time.Duration, cancel context.CancelCauseFunc) *timeoutReader {
	t := &timeoutReader{r: r, timeout: timeout}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, func() { cancel(errReadTimeout) })
		t.timer.Stop()
	}
	return t
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	if t.timer == nil {
		return t.r.Read(p)
	}
	t.timer.Reset(t.timeout)
	n, err := t.r.Read(p)
	t.timer.Stop()
	return n, err
}

func (t *timeoutReader) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
