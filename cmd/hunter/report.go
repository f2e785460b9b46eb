package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/hvt-hunter/internal/report"
)

var (
	reportOut     string
	reportSession string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a ranked Markdown report of the session",
	RunE: func(_ *cobra.Command, _ []string) error {
		state, err := readSession(reportSession)
		if err != nil {
			return err
		}
		return writeOutput(reportOut, func(w io.Writer) error {
			return report.WriteMarkdown(w, state)
		})
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Output file (default stdout)")
	reportCmd.Flags().StringVar(&reportSession, "session", "", "Session file (defaults to session_path from the config)")

	rootCmd.AddCommand(reportCmd)
}

// writeOutput runs write against path, or stdout when path is empty
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	logrus.Infof("Wrote %s", path)
	return nil
}
