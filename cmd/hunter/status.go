package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

var statusSession string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the checkpointed session",
	Long: `Display the last committed checkpoint:
- Session ID, status and checkpoint sequence
- Profiles scanned, accepted, rejected and failed
- Queue depth and the most recent HVTs`,
	RunE: func(_ *cobra.Command, _ []string) error {
		state, err := readSession(statusSession)
		if err != nil {
			return err
		}
		printStatus(state)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "Session file (defaults to session_path from the config)")

	rootCmd.AddCommand(statusCmd)
}

func printStatus(state *storage.SessionState) {
	bold := color.New(color.Bold)
	bold.Printf("Session %s\n", state.SessionID)
	fmt.Printf("  Status:     %s\n", statusLabel(state.Status))
	fmt.Printf("  Checkpoint: #%d at %s\n", state.Sequence, state.UpdatedAt.Local().Format(time.DateTime))
	fmt.Printf("  Started:    %s\n", state.CreatedAt.Local().Format(time.DateTime))
	fmt.Println()

	stats := state.Stats
	fmt.Printf("  Scanned:    %d\n", stats.ProfilesScanned)
	fmt.Printf("  Accepted:   %s\n", color.New(color.FgGreen).Sprint(stats.ProfilesAccepted))
	fmt.Printf("  Rejected:   %d\n", stats.ProfilesRejected)
	errs := stats.TransientErrors + stats.PermanentErrors
	if errs > 0 {
		fmt.Printf("  Errors:     %s (%d transient, %d permanent)\n",
			color.New(color.FgYellow).Sprint(errs), stats.TransientErrors, stats.PermanentErrors)
	} else {
		fmt.Println("  Errors:     0")
	}
	fmt.Printf("  Queued:     %d\n", len(state.Frontier))
	fmt.Printf("  Visited:    %d\n", len(state.Visited))
	fmt.Println()

	if len(state.HVTs) == 0 {
		fmt.Println("No HVTs yet.")
		return
	}
	start := max(len(state.HVTs)-5, 0)
	bold.Printf("Latest HVTs (%d total)\n", len(state.HVTs))
	for _, h := range state.HVTs[start:] {
		source := "seed"
		if h.Ref.SourceProfile != "" {
			source = "via @" + h.Ref.SourceProfile
		}
		fmt.Printf("  %s  @%s  %d followers  (%s)\n",
			color.New(color.FgGreen).Sprint("✓"), h.Ref.Username, h.Snapshot.FollowerCount, source)
	}
}

func statusLabel(status string) string {
	switch status {
	case storage.StatusComplete:
		return color.New(color.FgGreen).Sprint(status)
	case storage.StatusInterrupted:
		return color.New(color.FgYellow).Sprint(status)
	default:
		return color.New(color.FgBlue).Sprint(status)
	}
}
