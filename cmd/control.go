package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/instance"
	"github.com/jfmyers9/cadenza/internal/player"
	"github.com/spf13/cobra"
)

// sendTimeout bounds delivery of one message to the running player
const sendTimeout = 5 * time.Second

// messageCmd builds a command that sends a parameterless message
func messageCmd(use, short, long, name string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendMessage(instance.Message{Name: name})
		},
	}
}

var (
	playCmd = messageCmd("play", "Play the selected track",
		`Start playing the selected playlist entry, restarting it if it is already playing.`,
		instance.NamePlay)

	pauseCmd = messageCmd("pause", "Toggle pause",
		`Pause playback, or resume it if it is paused.`,
		instance.NamePause)

	stopCmd = messageCmd("stop", "Stop playback",
		`Stop the current track. The playlist and selection are kept.`,
		instance.NameStop)

	nextCmd = messageCmd("next", "Skip to the next track",
		`Skip to the next track in playlist or shuffle order.`,
		instance.NamePlayNext)

	prevCmd = messageCmd("prev", "Go to the previous track",
		`Go back to the previous track in playlist or shuffle order.`,
		instance.NamePlayPrev)

	clearCmd = messageCmd("clear", "Clear the playlist",
		`Stop playback and remove every entry from the playlist.`,
		instance.NameClearPlaylist)

	terminateCmd = messageCmd("terminate", "Quit the running player",
		`Ask the running player to stop playback, save its playlist and exit.`,
		instance.NameTerminate)
)

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add <files...>",
	Short: "Add files to the running player",
	Long: `Append files, directories or archives to the playlist of the running
player and start playing the first one added.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendMessage(instance.FilesMessage(args))
	},
}

// shuffleCmd represents the shuffle command
var shuffleCmd = &cobra.Command{
	Use:   "shuffle [on|off]",
	Short: "Toggle or set shuffle mode",
	Long: `Control shuffle mode.

Without arguments, toggles shuffle on/off.
With 'on' or 'off' argument, explicitly sets shuffle state.

The setting is saved to the configuration file, which the running player
watches.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSwitch("playback.shuffle", func(c *config.Config) bool { return c.Playback.Shuffle }, args)
	},
}

// loopCmd represents the loop command
var loopCmd = &cobra.Command{
	Use:   "loop [on|off]",
	Short: "Toggle or set loop mode",
	Long: `Control whether playback starts over after the last track.

Without arguments, toggles loop on/off.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSwitch("playback.loop", func(c *config.Config) bool { return c.Playback.Loop }, args)
	},
}

// volumeCmd represents the volume command
var volumeCmd = &cobra.Command{
	Use:   "volume [0-800]",
	Short: "Show or set the playback volume",
	Long: `Set the synthesizer volume in percent. 100 is unity gain.

Without arguments, displays the configured volume. The running player
picks up a new volume from the next track without interrupting the current
one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVolume,
}

func init() {
	terminateCmd.Aliases = []string{"quit"}

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(prevCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(shuffleCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.AddCommand(volumeCmd)
}

// sendMessage delivers msg to the running player
func sendMessage(msg instance.Message) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err = instance.Send(ctx, instance.NewSocketChannel(cfg.SocketPath()), msg)
	if errors.Is(err, instance.ErrNoInstance) {
		return fmt.Errorf("cadenza is not running")
	}
	if err != nil {
		return fmt.Errorf("failed to send %q: %w", msg.Name, err)
	}
	return nil
}

// parseSwitch reads an on/off argument. Without one, current is inverted.
func parseSwitch(args []string, current bool) (bool, error) {
	if len(args) == 0 {
		return !current, nil
	}
	switch args[0] {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid argument: %s (must be 'on' or 'off')", args[0])
	}
}

func setSwitch(key string, current func(*config.Config) bool, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	enabled, err := parseSwitch(args, current(cfg))
	if err != nil {
		return err
	}

	if err := config.Set(config.GetConfigDir(), key, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func runVolume(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Println(cfg.Playback.Volume)
		return nil
	}

	level, err := strconv.Atoi(args[0])
	if err != nil || level < 0 || level > player.MaxVolume {
		return fmt.Errorf("invalid volume level: %s (must be a number 0-%d)", args[0], player.MaxVolume)
	}

	if err := config.Set(config.GetConfigDir(), "playback.volume", strconv.Itoa(level)); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	return nil
}

// stepVolume changes the volume configured in dir by delta, clamped to the
// player's range, and returns the new level
func stepVolume(dir string, delta int) (int, error) {
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: %w", err)
	}

	level := min(max(cfg.Playback.Volume+delta, 0), player.MaxVolume)
	if err := config.Set(dir, "playback.volume", strconv.Itoa(level)); err != nil {
		return 0, fmt.Errorf("failed to set volume: %w", err)
	}
	return level, nil
}
