package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/eddy"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of eddy",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("eddy version %s\n", strings.TrimSpace(eddy.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
