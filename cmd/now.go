package cmd

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/jfmyers9/cadenza/internal/config"
	"github.com/jfmyers9/cadenza/internal/daemon"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

// nowCmd represents the now command
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Display the track the player is on",
	Long: `Read the status published by the running player and display the
current track.

The output format can be customized in ~/.config/cadenza/config.yaml
using a Go template. Available fields: .Name, .Title, .Path, .State,
.Index, .Count, .Volume, .Played, .Shuffle, .Loop

With a width set, the line is cut to that many columns and ends with the
track's position in the playlist. Long text is truncated, or scrolls as the
track plays when marquee is enabled.

Exit codes:
  0 - A track is playing or paused
  1 - Nothing playing or player not running`,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)

	// Add format flag to override config
	nowCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	// Add width flag to set fixed output width
	nowCmd.Flags().IntP("width", "w", 0, "Fixed output width, position badge included (0=disabled, overrides config)")
	nowCmd.Flags().Bool("marquee", false, "Scroll long text instead of truncating it (overrides config)")
}

// nowView is the data the output template sees
type nowView struct {
	Name    string
	Title   string
	Path    string
	State   string
	Index   int // 1-based
	Count   int
	Volume  int
	Played  string
	Shuffle bool
	Loop    bool

	played time.Duration
}

func newNowView(n daemon.Now, at time.Time) nowView {
	played := n.Played(at)
	return nowView{
		Name:    n.Name(),
		Title:   n.Title,
		Path:    n.Path,
		State:   n.State,
		Index:   n.Index + 1,
		Count:   n.Count,
		Volume:  n.Volume,
		Played:  fmt.Sprintf("%d:%02d", int(played.Minutes()), int(played.Seconds())%60),
		Shuffle: n.Shuffle,
		Loop:    n.Loop,
		played:  played,
	}
}

func runNow(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Check for format flag override
	formatFlag, _ := cmd.Flags().GetString("format")
	if formatFlag != "" {
		cfg.OutputFormat = formatFlag
	}

	now, err := daemon.ReadState(cfg.StatusPath())
	if err != nil || !now.Active() {
		// Player not running or nothing loaded
		os.Exit(1)
		return nil
	}

	view := newNowView(now, time.Now())
	output, err := formatTrack(view, cfg.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	width, _ := cmd.Flags().GetInt("width")
	if width == 0 {
		width = cfg.OutputWidth
	}

	scrolling, _ := cmd.Flags().GetBool("marquee")
	if !cmd.Flags().Changed("marquee") {
		scrolling = cfg.MarqueeEnabled
	}

	if width > 0 {
		var scroll *marquee
		if scrolling {
			scroll = &marquee{speed: cfg.MarqueeSpeed, separator: cfg.MarqueeSeparator}
		}
		output = fitLine(view, output, width, scroll)
	}

	fmt.Println(output)
	return nil
}

// formatTrack applies the template to the status data
func formatTrack(view nowView, templateStr string) (string, error) {
	tmpl, err := template.New("output").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// minTextWidth is the narrowest text column worth keeping the badge for
const minTextWidth = 4

// badge is the fixed tail of a width-limited line
func (v nowView) badge() string {
	b := fmt.Sprintf(" [%d/%d]", v.Index, v.Count)
	if v.State == "paused" {
		b = " ⏸" + b
	}
	return b
}

// fitLine renders text in exactly width columns. The position badge stays
// visible; the text is truncated, or scrolled when scroll is set.
func fitLine(view nowView, text string, width int, scroll *marquee) string {
	badge := view.badge()
	room := width - runewidth.StringWidth(badge)
	if room < minTextWidth {
		badge, room = "", width
	}

	switch {
	case runewidth.StringWidth(text) <= room:
	case scroll != nil:
		text = scroll.window(text, room, view.played)
	case room > len(ellipsis):
		text = runewidth.Truncate(text, room, ellipsis)
	default:
		text = runewidth.Truncate(text, room, "")
	}
	return runewidth.FillRight(text, room) + badge
}

const ellipsis = "..."

// marquee scrolls text that does not fit, advancing speed runes for every
// second of play so each track starts from its beginning
type marquee struct {
	speed     int
	separator string
}

func (m marquee) window(text string, width int, played time.Duration) string {
	loop := []rune(text + m.separator)
	start := int(played.Seconds()) * max(m.speed, 0) % len(loop)
	rotated := string(loop[start:]) + string(loop[:start])
	return runewidth.Truncate(rotated, width, "")
}
