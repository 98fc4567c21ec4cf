package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/scheduler"
	"github.com/tanq16/rangedl/internal/utils"
)

func newBatchCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download every entry of a YAML list",
		Long: `Download every entry of a YAML list. Each entry has a link, an optional
output path (op) and an optional speed limit:

  - link: https://example.com/file.iso
    op: file.iso
    limit: 2MB`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintError("No entries found in the batch file")
				os.Exit(1)
			}
			base, err := baseJob()
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			jobs := make([]utils.DownloadJob, 0, len(entries))
			for i, entry := range entries {
				job, err := scheduler.NewJob(entry, base)
				if err != nil {
					output.PrintError(fmt.Sprintf("Entry %d: %v", i+1, err))
					os.Exit(1)
				}
				jobs = append(jobs, job)
			}
			if err := runJobs(jobs, workers); err != nil {
				fmt.Println()
				output.PrintError("Encountered failed download(s)")
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Number of downloads to run in parallel")
	return cmd
}
