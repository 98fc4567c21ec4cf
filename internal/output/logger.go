package output

import (
	"fmt"
	"os"

	"github.com/tanq16/rangedl/internal/utils"
)

// RedirectLogs sends log lines to path while the live display owns the
// terminal. The returned func closes the file and restores stderr.
func RedirectLogs(path string) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	utils.SetLogOutput(file)
	return func() {
		utils.SetLogOutput(os.Stderr)
		file.Close()
	}, nil
}
