package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/daemon"
	"github.com/jfmyers9/cadenza/internal/instance"
	"github.com/jfmyers9/cadenza/internal/playlist"
	"github.com/spf13/cobra"
)

// playlistCmd represents the playlist command
var playlistCmd = &cobra.Command{
	Use:   "playlist",
	Short: "Print the saved playlist",
	Long: `Print the playlist saved by the player, one path per line. The entry
the player is on is marked with '>'.

The player saves the playlist whenever it changes and reloads it when it
starts.`,
	Args: cobra.NoArgs,
	RunE: runPlaylist,
}

// playlistLoadCmd represents the playlist load command
var playlistLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Append a playlist file to the running player",
	Long: `Read a playlist file, one path per line, and append its entries to the
playlist of the running player. Relative paths are taken relative to the
directory holding the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := loadPlaylistMessage(args[0])
		if err != nil {
			return err
		}
		return sendMessage(msg)
	},
}

// playlistSaveCmd represents the playlist save command
var playlistSaveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Write the current playlist to a file",
	Long: `Write the player's playlist to a file, one path per line. The file can
be read back with 'cadenza playlist load'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		n, err := copyPlaylist(cfg.PlaylistPath(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Saved %d entries to %s\n", n, args[0])
		return nil
	},
}

func init() {
	playlistCmd.AddCommand(playlistLoadCmd)
	playlistCmd.AddCommand(playlistSaveCmd)
	rootCmd.AddCommand(playlistCmd)
}

func runPlaylist(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	paths, err := playlist.ReadFile(cfg.PlaylistPath())
	if err != nil {
		return err
	}

	current := -1
	if now, err := daemon.ReadState(cfg.StatusPath()); err == nil && now.Active() {
		current = now.Index
	}

	printPlaylist(os.Stdout, paths, current)
	return nil
}

func printPlaylist(w io.Writer, paths []string, current int) {
	for i, p := range paths {
		marker := " "
		if i == current {
			marker = ">"
		}
		fmt.Fprintf(w, "%s %3d  %s\n", marker, i+1, p)
	}
}

// loadPlaylistMessage reads a playlist file into a Files message
func loadPlaylistMessage(file string) (instance.Message, error) {
	if _, err := os.Stat(file); err != nil {
		return instance.Message{}, fmt.Errorf("failed to open playlist: %w", err)
	}
	paths, err := playlist.ReadFile(file)
	if err != nil {
		return instance.Message{}, err
	}
	if len(paths) == 0 {
		return instance.Message{}, fmt.Errorf("%s has no entries", file)
	}

	base := filepath.Dir(file)
	for i, p := range paths {
		if !filepath.IsAbs(p) {
			paths[i] = filepath.Join(base, p)
		}
	}
	return instance.FilesMessage(paths), nil
}

// copyPlaylist writes the saved playlist at src to dst and returns the
// number of entries
func copyPlaylist(src, dst string) (int, error) {
	paths, err := playlist.ReadFile(src)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no saved playlist")
	}
	if err := playlist.WriteFile(dst, paths); err != nil {
		return 0, err
	}
	return len(paths), nil
}
