package cli

import (
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the quote once and keep the screenshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Capture(cmd.Context())
	},
}
