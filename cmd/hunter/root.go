package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hunter",
	Short: "Discover high-value profiles by expanding follower graphs",
	Long: `hunter crawls follower relationships outward from seed accounts, runs every
candidate through a staged qualification pipeline and checkpoints progress so
an interrupted crawl resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to JSON or YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// errNoSession is returned by read-only commands when nothing was checkpointed yet
var errNoSession = errors.New("no session checkpoint found")

// readSession loads the last checkpoint without starting a session.
// sessionPath overrides the path from the configuration file.
func readSession(sessionPath string) (*storage.SessionState, error) {
	path := sessionPath
	if path == "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		path = cfg.SessionPath
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", errNoSession, path)
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	st, err := storage.NewStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer st.Close()

	state, err := st.LoadState()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("%w at %s", errNoSession, path)
	}
	return state, nil
}
