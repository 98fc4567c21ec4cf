package rangehttp

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/tanq16/rangedl/internal/utils"
)

// Merge concatenates parts, already in range order, into a temporary file
// next to outputPath and then moves it over outputPath. Each part is deleted
// once copied and all of them are gone when Merge returns, whatever the
// outcome. A size different from expectedSize is logged, not fatal.
func Merge(parts []string, outputPath string, expectedSize int64) (int64, error) {
	log := utils.GetLogger("merge")
	defer func() {
		for _, part := range parts {
			os.Remove(part)
		}
	}()

	tempPath := utils.MergeFilePath(outputPath)
	written, err := concatParts(parts, tempPath)
	if err != nil {
		os.Remove(tempPath)
		return written, fmt.Errorf("%w: %v", ErrMerge, err)
	}
	if written != expectedSize {
		log.Warn().Int64("written", written).Int64("expected", expectedSize).Msg("Merged size does not match expected size")
	}
	if err := replaceFile(tempPath, outputPath); err != nil {
		os.Remove(tempPath)
		return written, fmt.Errorf("%w: %v", ErrMerge, err)
	}
	log.Debug().Int("parts", len(parts)).Int64("bytes", written).Str("output", outputPath).Msg("Merge completed")
	return written, nil
}

func concatParts(parts []string, tempPath string) (int64, error) {
	dest, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating merge file: %v", err)
	}
	var total int64
	for _, part := range parts {
		n, err := appendPart(dest, part)
		total += n
		if err != nil {
			dest.Close()
			return total, err
		}
		os.Remove(part)
	}
	if err := dest.Sync(); err != nil {
		dest.Close()
		return total, fmt.Errorf("syncing merge file: %v", err)
	}
	if err := dest.Close(); err != nil {
		return total, fmt.Errorf("closing merge file: %v", err)
	}
	return total, nil
}

func appendPart(dest io.Writer, part string) (int64, error) {
	src, err := os.Open(part)
	if err != nil {
		return 0, fmt.Errorf("opening part file: %v", err)
	}
	defer src.Close()
	n, err := io.Copy(dest, src)
	if err != nil {
		return n, fmt.Errorf("copying %s: %v", part, err)
	}
	return n, nil
}

// replaceFile renames src over dst. Rename already replaces on POSIX; on
// Windows the old file has to go first.
func replaceFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || runtime.GOOS != "windows" {
		return err
	}
	if rmErr := os.Remove(dst); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("removing existing file: %v", rmErr)
	}
	return os.Rename(src, dst)
}
