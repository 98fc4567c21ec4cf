package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_PATH | DIR]",
		Short: "Remove part and merge files left behind by an interrupted download",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			var removed int
			var err error
			if info, statErr := os.Stat(target); statErr == nil && info.IsDir() {
				removed, err = utils.CleanDir(target)
			} else {
				removed, err = utils.CleanParts(target)
			}
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d temporary file(s)", removed))
		},
	}
}
