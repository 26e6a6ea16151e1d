package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/grantscope/advisor/internal/model"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Print the demo interview as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(model.DemoInterview())
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
