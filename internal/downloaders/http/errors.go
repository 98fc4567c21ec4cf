package rangehttp

import (
	"errors"
	"fmt"
)

var (
	ErrSizeUnavailable    = errors.New("size unavailable")
	ErrProtocol           = errors.New("protocol error")
	ErrRangeRequest       = errors.New("range request failed")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrMerge              = errors.New("merge failed")
	ErrInterrupted        = errors.New("interrupted")
)

// Stage names the phase of a download an error came from.
type Stage string

const (
	StageProbe Stage = "probe"
	StageFetch Stage = "fetch"
	StageMerge Stage = "merge"
)

// DownloadError is the one error a Downloader run surfaces. Part is -1 and
// Range is nil when the failure is not tied to a worker.
type DownloadError struct {
	Stage Stage
	Part  int
	Range *Range
	Err   error
}

func (e *DownloadError) Error() string {
	if e.Range != nil {
		return fmt.Sprintf("%s stage, part %d range %s: %v", e.Stage, e.Part, e.Range, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *DownloadError {
	return &DownloadError{Stage: stage, Part: -1, Err: err}
}
