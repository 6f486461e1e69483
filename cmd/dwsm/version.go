package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/dwsm"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of dwsm",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dwsm version %s\n", strings.TrimSpace(dwsm.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
