package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/jfmyers9/cadenza/internal/daemon"
	"github.com/jfmyers9/cadenza/internal/history"
	"github.com/jfmyers9/cadenza/internal/instance"
	"github.com/jfmyers9/cadenza/internal/player"
	"github.com/rivo/tview"
)

const (
	maxRecentTracks = 8
	volumeStep      = 10
)

// Config holds TUI configuration options
type Config struct {
	RefreshRate time.Duration // How often to refresh the display
}

// DefaultConfig returns the default TUI configuration
func DefaultConfig() Config {
	return Config{
		RefreshRate: 500 * time.Millisecond,
	}
}

// Source supplies the data shown by the TUI
type Source struct {
	// Status reads the published player status
	Status func() (daemon.Now, error)
	// Recent returns the latest plays, newest first; nil hides history
	Recent func(ctx context.Context, limit int) ([]history.Play, error)
	// Send delivers a control message to the running player
	Send func(msg instance.Message) error
	// StepVolume changes the configured volume by delta and returns the
	// new level
	StepVolume func(delta int) (int, error)
}

// App is the TUI application for displaying and controlling playback
type App struct {
	app        *tview.Application
	nowPlaying *tview.TextView
	progress   *tview.TextView
	status     *tview.TextView
	recent     *tview.TextView

	config Config
	source Source

	// mu guards the fields below, shared by the key handler and the
	// refresh loop
	mu      sync.Mutex
	current daemon.Now
	readErr error
	plays   []history.Play
	notice  string

	// Last-rendered content for change detection
	lastNowPlaying string
	lastProgress   string
	lastRecent     string
	lastStatus     string

	cancelFunc context.CancelFunc
}

// New creates a new TUI application
func New(cfg Config, src Source) *App {
	a := &App{
		app:    tview.NewApplication(),
		config: cfg,
		source: src,
	}
	a.setupUI()
	return a
}

// setupUI creates the UI layout
func (a *App) setupUI() {
	a.nowPlaying = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.nowPlaying.SetBorder(true).
		SetTitle(" Now Playing ").
		SetTitleAlign(tview.AlignLeft)

	a.progress = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progress.SetBorder(true)

	a.recent = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.recent.SetBorder(true).
		SetTitle(" Recent ").
		SetTitleAlign(tview.AlignLeft)

	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.nowPlaying, 0, 3, false).
		AddItem(a.progress, 3, 1, false).
		AddItem(a.recent, maxRecentTracks+2, 1, false).
		AddItem(a.status, 1, 1, false)

	a.app.SetInputCapture(a.handleKeyEvent)
	a.app.SetRoot(flex, true)
}

// keyMessages maps keys to the control message they send
var keyMessages = map[rune]string{
	' ':  instance.NamePause,
	'n':  instance.NamePlayNext,
	'p':  instance.NamePlayPrev,
	's':  instance.NameStop,
	'\r': instance.NamePlay,
	'c':  instance.NameClearPlaylist,
	'Q':  instance.NameTerminate,
}

// handleKeyEvent processes keyboard input
func (a *App) handleKeyEvent(event *tcell.EventKey) *tcell.EventKey {
	r := event.Rune()
	if event.Key() == tcell.KeyEnter {
		r = '\r'
	}
	if r == 'q' {
		a.Stop()
		return nil
	}

	switch r {
	case '+', '=', 'V':
		a.stepVolume(volumeStep)
		return nil
	case '-', 'v':
		a.stepVolume(-volumeStep)
		return nil
	}

	name, ok := keyMessages[r]
	if !ok {
		return event
	}
	if a.source.Send != nil {
		err := a.source.Send(instance.Message{Name: name})
		a.mu.Lock()
		if err != nil {
			a.notice = err.Error()
		} else {
			a.notice = ""
		}
		a.mu.Unlock()
	}
	return nil
}

func (a *App) stepVolume(delta int) {
	if a.source.StepVolume == nil {
		return
	}
	level, err := a.source.StepVolume(delta)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.notice = err.Error()
		return
	}
	a.notice = ""
	a.current.Volume = level
}

// Run starts the TUI and blocks until it is closed
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancelFunc = context.WithCancel(ctx)

	go a.handleUpdates(ctx)

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// handleUpdates polls the sources and drives all redraws from a single
// ticker so redraws never queue up
func (a *App) handleUpdates(ctx context.Context) {
	refreshRate := a.config.RefreshRate
	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	var lastPath string
	for {
		a.poll(ctx, &lastPath)
		a.refresh()

		select {
		case <-ctx.Done():
			a.app.Stop()
			return
		case <-ticker.C:
		}
	}
}

// poll reads the status file, and the history whenever the track changes
func (a *App) poll(ctx context.Context, lastPath *string) {
	var now daemon.Now
	var err error
	if a.source.Status != nil {
		now, err = a.source.Status()
	}

	var plays []history.Play
	reload := a.source.Recent != nil && (now.Path != *lastPath || a.plays == nil)
	if reload {
		plays, _ = a.source.Recent(ctx, maxRecentTracks)
		*lastPath = now.Path
	}

	a.mu.Lock()
	a.current = now
	a.readErr = err
	if reload {
		a.plays = plays
	}
	a.mu.Unlock()
}

// refresh updates all UI components
func (a *App) refresh() {
	a.app.QueueUpdateDraw(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		setIfChanged(a.nowPlaying, &a.lastNowPlaying, renderNowPlaying(a.current, a.readErr))
		setIfChanged(a.progress, &a.lastProgress, renderProgress(a.current, time.Now()))
		setIfChanged(a.recent, &a.lastRecent, renderRecent(a.plays))
		setIfChanged(a.status, &a.lastStatus, renderStatus(a.notice))
	})
}

func setIfChanged(view *tview.TextView, last *string, text string) {
	if text != *last {
		*last = text
		view.SetText(text)
	}
}

// Stop stops the TUI application
func (a *App) Stop() {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.app.Stop()
}

func renderNowPlaying(now daemon.Now, err error) string {
	if err != nil {
		return "\n\n[gray]cadenza is not running[-]"
	}
	if !now.Active() {
		text := "\n\n[gray]No track playing[-]"
		if now.Notice != "" {
			text += fmt.Sprintf("\n\n[red]%s[-]", tview.Escape(now.Notice))
		}
		return text
	}

	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("[white::b]%s[-:-:-]\n", tview.Escape(now.Name())))
	sb.WriteString(fmt.Sprintf("[gray]%s[-]\n", tview.Escape(filepath.Dir(now.Path))))
	sb.WriteString(fmt.Sprintf("[yellow]%d / %d[-]", now.Index+1, now.Count))

	stateIcon := "[green]▶[-]" // Play triangle
	if now.State == player.StatePaused.String() {
		stateIcon = "[yellow]⏸[-]" // Pause icon
	}
	sb.WriteString(fmt.Sprintf("\n\n%s", stateIcon))
	return sb.String()
}

// renderProgress shows elapsed time and the playback modes. MIDI files
// carry no reliable duration, so there is no bar.
func renderProgress(now daemon.Now, at time.Time) string {
	if !now.Active() {
		return ""
	}

	modes := []string{fmt.Sprintf("vol %d%%", now.Volume)}
	if now.Shuffle {
		modes = append(modes, "shuffle")
	}
	if now.Loop {
		modes = append(modes, "loop")
	}
	return fmt.Sprintf("%s  [gray]%s[-]", formatDuration(now.Played(at)), strings.Join(modes, "  "))
}

func renderRecent(plays []history.Play) string {
	if len(plays) == 0 {
		return "[gray]No recent tracks[-]"
	}

	var sb strings.Builder
	for i, p := range plays {
		if i > 0 {
			sb.WriteString("\n")
		}

		// Result indicator
		if p.Result == command.Error.String() {
			sb.WriteString("[red]✗[-] ")
		} else {
			sb.WriteString("[green]✓[-] ")
		}

		name := p.Title
		if name == "" {
			name = filepath.Base(p.Path)
		}
		sb.WriteString(fmt.Sprintf("[white]%s[-] [gray]%s[-]", tview.Escape(name), formatDuration(p.Duration())))
	}
	return sb.String()
}

func renderStatus(notice string) string {
	if notice != "" {
		return fmt.Sprintf("[red]%s[-]", tview.Escape(notice))
	}
	return "[gray]q:quit  space:pause  n:next  p:prev  s:stop  enter:play  +/-:volume  c:clear  Q:quit player[-]"
}

// formatDuration formats a duration as MM:SS or HH:MM:SS for longer durations
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
