package cmd

import (
	"context"
	"fmt"

	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/daemon"
	"github.com/jfmyers9/cadenza/internal/history"
	"github.com/jfmyers9/cadenza/internal/instance"
	"github.com/jfmyers9/cadenza/internal/tui"
	"github.com/spf13/cobra"
)

// tuiCmd represents the tui command
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Display a terminal UI for the running player",
	Long: `Display a terminal-based user interface showing the track the running
player is on, its playback modes and the most recent plays.

Keys:
  space  pause/resume     n  next      p  prev
  enter  play             s  stop      c  clear playlist
  +/V    volume up        -/v  volume down
  Q      quit the player
  q      close the TUI`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	src := tui.Source{
		Status: func() (daemon.Now, error) { return daemon.ReadState(cfg.StatusPath()) },
		Send:   sendMessage,
		StepVolume: func(delta int) (int, error) {
			return stepVolume(config.GetConfigDir(), delta)
		},
	}

	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		src.Recent = store.Recent
	}

	// The last status stays readable after the player exits
	if _, err := instance.HolderPID(cfg.LockPath()); err != nil {
		fmt.Println("cadenza is not running; showing the last status")
	}

	app := tui.New(tui.DefaultConfig(), src)
	return app.Run(context.Background())
}
