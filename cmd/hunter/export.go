package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/alvmarrod/hvt-hunter/internal/report"
)

var (
	exportOut     string
	exportSession string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export accepted profiles as JSON result records",
	RunE: func(_ *cobra.Command, _ []string) error {
		state, err := readSession(exportSession)
		if err != nil {
			return err
		}
		return writeOutput(exportOut, func(w io.Writer) error {
			return report.WriteJSON(w, report.Records(state.HVTs))
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringVar(&exportSession, "session", "", "Session file (defaults to session_path from the config)")

	rootCmd.AddCommand(exportCmd)
}
