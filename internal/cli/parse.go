package cli

import (
	"github.com/spf13/cobra"

	"pricewatcher/internal/app"
)

var (
	parseText  string
	parseImage string
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Run OCR and field parsing on a saved screenshot or raw text",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Parse(cmd.Context(), app.ParseOptions{
			Text:  parseText,
			Image: parseImage,
		})
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseText, "text", "", "OCR text to parse")
	parseCmd.Flags().StringVar(&parseImage, "image", "", "Screenshot (PNG) to recognize and parse")
}
