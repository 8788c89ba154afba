package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/history"
	"github.com/spf13/cobra"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently played tracks",
	Long: `Show the most recent plays from the play log, newest first.

Each line shows when the track started, how long it played, how it ended
(TUNE_END when it played to the end) and the track.

With --top, show the tracks played to the end most often instead.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Number of entries to show (0=all)")
	historyCmd.Flags().Bool("top", false, "Show the most played tracks")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled (set history.enabled in config.yaml)")
	}

	store, err := history.NewStore(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	top, _ := cmd.Flags().GetBool("top")

	if top {
		tracks, err := store.Top(ctx, command.TuneEnd.String(), limit)
		if err != nil {
			return err
		}
		printTop(os.Stdout, tracks)
		return nil
	}

	plays, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	printPlays(os.Stdout, plays)
	return nil
}

func printPlays(w io.Writer, plays []history.Play) {
	for _, p := range plays {
		name := p.Title
		if name == "" {
			name = filepath.Base(p.Path)
		}
		fmt.Fprintf(w, "%s  %8s  %-14s  %s\n",
			p.Started.Local().Format("2006-01-02 15:04"),
			p.Duration().Round(time.Second),
			p.Result,
			name)
	}
}

func printTop(w io.Writer, tracks []history.TrackCount) {
	for _, tc := range tracks {
		name := tc.Title
		if name == "" {
			name = tc.Path
		}
		fmt.Fprintf(w, "%5d  %s\n", tc.Plays, name)
	}
}
