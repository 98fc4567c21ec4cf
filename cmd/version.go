package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var RangedlVersion = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(RangedlVersion)
		},
	}
}
