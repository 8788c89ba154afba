package player

import (
	"context"
	"time"

	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/jfmyers9/cadenza/internal/playlist"
	"github.com/rs/zerolog"
)

// Volume bounds in percent
const (
	DefaultVolume = 100
	MaxVolume     = 800
)

// State is the coarse state of the playback loop
type State int

const (
	StateIdle     State = iota // Nothing loaded
	StateLoading               // Entry handed to the engine
	StatePlaying               // Engine producing audio
	StatePaused                // Engine active with the pause flag set
	StateStopping              // Output being flushed and closed
	StateQuit                  // Terminal
)

// String returns a human-readable representation of the State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Options are the playback mode switches
type Options struct {
	Loop     bool // Wrap around at the end of the playlist
	Shuffle  bool // Traverse the playlist through the shuffle sequencer
	Continue bool // Advance after a track ends or fails instead of stopping
	AutoExit bool // Quit when the end of the playlist is reached
	Volume   int  // Initial amplification in percent

	Add playlist.AddOptions // Applied to every AddFiles command
}

// Status is a snapshot of the loop published to the Observer
type Status struct {
	State   State
	Index   int
	Entry   playlist.Entry
	Count   int
	Volume  int
	Shuffle bool
	Loop    bool
}

// Observer receives loop events. Calls are made from the loop goroutine and
// must not block for long.
type Observer interface {
	StatusChanged(status Status)
	TrackFinished(entry playlist.Entry, result command.Kind, started time.Time)
	NothingPlayable()
	OutputFailed(err error)
}

// Config holds everything the loop needs
type Config struct {
	Queue    *command.Queue
	Playlist *playlist.Playlist
	Engine   Engine
	Output   Output         // nil means no output device
	Options  Options
	Settings func() Options // re-read on ApplySettings; nil keeps Options
	Observer Observer       // optional
	Logger   zerolog.Logger
}

// Loop is the single consumer of the command queue. It owns the playlist,
// the output device and the engine invocation.
type Loop struct {
	queue    *command.Queue
	playlist *playlist.Playlist
	engine   Engine
	output   Output
	opts     Options
	settings func() Options
	observer Observer
	logger   zerolog.Logger

	ctx        context.Context
	state      State
	active     bool // engine is running a track
	paused     bool
	volume     int
	outputOpen bool
	outputBad  bool // output failure already reported for this episode
	failures   int  // consecutive Error results
	deferred   bool // settings waiting for the loop to go idle
	dropped    int  // queue evictions already logged
}

// New creates a playback loop
func New(cfg Config) *Loop {
	output := cfg.Output
	if output == nil {
		output = nopOutput{}
	}
	return &Loop{
		queue:    cfg.Queue,
		playlist: cfg.Playlist,
		engine:   cfg.Engine,
		output:   output,
		opts:     cfg.Options,
		settings: cfg.Settings,
		observer: cfg.Observer,
		logger:   cfg.Logger.With().Str("component", "loop").Logger(),
		volume:   clampVolume(cfg.Options.Volume),
	}
}

// Run consumes commands until Quit. A cancelled context is treated as Quit.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	l.logger.Info().Msg("Starting playback loop")
	l.setState(StateIdle)

	for l.state != StateQuit {
		cmd, err := l.queue.Pop(ctx)
		if err != nil {
			cmd = command.New(command.Quit)
		}
		l.logDropped()

		// Each handler may produce a follow-up command, which is handled
		// before the queue is consulted again.
		for cmd.Kind != command.None && l.state != StateQuit {
			if ctx.Err() != nil {
				cmd = command.New(command.Quit)
			}
			l.logger.Debug().Str("command", cmd.Kind.String()).Msg("Handling command")
			cmd = l.handle(ctx, cmd)
		}
	}

	l.logger.Info().Msg("Playback loop stopped")
	return nil
}

// State returns the current state. Only meaningful from the loop goroutine
// or after Run returned.
func (l *Loop) State() State {
	if l.state == StatePlaying && l.paused {
		return StatePaused
	}
	return l.state
}

// Status returns a snapshot of the loop
func (l *Loop) Status() Status {
	entry, _ := l.playlist.Current()
	return Status{
		State:   l.State(),
		Index:   l.playlist.Selected(),
		Entry:   entry,
		Count:   l.playlist.Len(),
		Volume:  l.volume,
		Shuffle: l.opts.Shuffle,
		Loop:    l.opts.Loop,
	}
}

func (l *Loop) handle(ctx context.Context, cmd command.Command) command.Command {
	switch cmd.Kind {
	case command.None:
		return cmd
	case command.Load:
		return l.load(ctx)
	case command.Next:
		return l.advance(1)
	case command.Prev:
		return l.advance(-1)
	case command.Jump:
		if l.playlist.Len() == 0 {
			return command.New(command.None)
		}
		l.playlist.Select(cmd.Index)
		return command.New(command.Load)
	case command.TuneEnd, command.Error:
		// Reported by a producer rather than the engine
		entry, _ := l.playlist.Current()
		return l.afterTrack(entry, cmd, time.Now())
	case command.Stop:
		l.stop()
		return command.New(command.None)
	case command.PauseToggle:
		l.TogglePause()
		return command.New(command.None)
	case command.Quit:
		l.quit()
		return command.New(command.None)
	default:
		next, _ := l.dispatch(cmd)
		return next
	}
}

// load plays the selected entry and returns the engine outcome as the next
// command
func (l *Loop) load(ctx context.Context) command.Command {
	if l.playlist.PlayableCount() == 0 {
		l.logger.Info().Int("entries", l.playlist.Len()).Msg("Nothing to play")
		l.setState(StateIdle)
		return command.New(command.None)
	}

	if !l.outputOpen {
		if err := l.output.Open(); err != nil {
			if !l.outputBad {
				l.logger.Error().Err(err).Msg("Cannot open output device")
				if l.observer != nil {
					l.observer.OutputFailed(err)
				}
			}
			l.outputBad = true
			l.setState(StateIdle)
			return command.New(command.None)
		}
		l.outputOpen = true
		l.outputBad = false
	}

	entry, _ := l.playlist.Current()
	index := l.playlist.Selected()
	if l.opts.Shuffle {
		// Selections made by Load, Jump or an add count toward the pass
		l.playlist.Shuffle().Mark(index)
	}
	l.setState(StateLoading)

	started := time.Now()
	if entry.Class == playlist.Unsupported {
		l.logger.Debug().Str("path", entry.Path).Msg("Skipping unsupported entry")
		return l.afterTrack(entry, command.New(command.Error), started)
	}

	l.logger.Info().
		Int("index", index).
		Str("path", entry.Path).
		Str("title", entry.Title).
		Msg("Loading track")

	l.active = true
	l.setState(StatePlaying)
	result := l.engine.Play(ctx, Track{
		Path:   entry.Path,
		Title:  entry.Title,
		Index:  index,
		Volume: l.volume,
	}, l)
	l.active = false

	return l.afterTrack(entry, result, started)
}

// afterTrack reacts to the outcome of a track
func (l *Loop) afterTrack(entry playlist.Entry, result command.Command, started time.Time) command.Command {
	if l.observer != nil && entry.Path != "" {
		l.observer.TrackFinished(entry, result.Kind, started)
	}

	switch result.Kind {
	case command.TuneEnd:
		l.failures = 0
		return l.continueOrStop()

	case command.Error:
		if entry.Class != playlist.Unsupported {
			if cur, ok := l.playlist.Current(); ok && cur.Path == entry.Path {
				l.playlist.Reclassify(l.playlist.Selected(), playlist.Error)
			}
			l.failures++
			l.logger.Warn().
				Str("path", entry.Path).
				Int("consecutive", l.failures).
				Msg("Track failed")
		}

		if l.failures >= l.playlist.PlayableCount() {
			l.logger.Error().Int("entries", l.playlist.Len()).Msg("Nothing playable in playlist")
			if l.observer != nil {
				l.observer.NothingPlayable()
			}
			l.failures = 0
			return command.New(command.Stop)
		}
		return l.continueOrStop()

	default:
		return result
	}
}

func (l *Loop) continueOrStop() command.Command {
	if !l.opts.Continue {
		return command.New(command.Stop)
	}
	return command.New(command.Next)
}

// advance moves the selection forward (dir > 0) or backward
func (l *Loop) advance(dir int) command.Command {
	n := l.playlist.Len()
	if n == 0 {
		return l.endOfList()
	}

	if l.opts.Shuffle {
		sh := l.playlist.Shuffle()
		if dir < 0 {
			if idx, ok := sh.Prev(); ok {
				l.playlist.Select(idx)
			}
			return command.New(command.Load)
		}

		idx, ok := sh.Next(l.playable)
		if !ok {
			if !l.opts.Loop {
				return l.endOfList()
			}
			l.logger.Debug().Int("entries", n).Msg("Shuffle pass complete, starting over")
			sh.Reset(n, false)
			if idx, ok = sh.Next(l.playable); !ok {
				return l.endOfList()
			}
		}
		l.logger.Debug().
			Int("index", idx).
			Int("visited", sh.Visited()).
			Int("remaining", sh.Remaining()).
			Msg("Shuffle draw")
		l.playlist.Select(idx)
		return command.New(command.Load)
	}

	sel := l.playlist.Selected()
	for step := 1; step <= n; step++ {
		i := sel + dir*step
		if i >= n || i < 0 {
			if !l.opts.Loop {
				if dir < 0 {
					// Retreating past the head restarts the first entry
					l.playlist.Select(0)
					return command.New(command.Load)
				}
				return l.endOfList()
			}
			i = (i%n + n) % n
		}
		if l.playable(i) {
			l.playlist.Select(i)
			return command.New(command.Load)
		}
	}
	return l.endOfList()
}

func (l *Loop) endOfList() command.Command {
	if l.opts.AutoExit {
		l.logger.Info().Msg("End of playlist, exiting")
		return command.New(command.Quit)
	}
	l.logger.Info().Msg("End of playlist")
	return command.New(command.Stop)
}

// logDropped reports commands the queue evicted since the last call
func (l *Loop) logDropped() {
	d := l.queue.Dropped()
	if d == l.dropped {
		return
	}
	l.logger.Debug().
		Int("dropped", d-l.dropped).
		Int("capacity", l.queue.Capacity()).
		Msg("Command queue full, oldest commands dropped")
	l.dropped = d
}

func (l *Loop) playable(index int) bool {
	e, ok := l.playlist.Entry(index)
	return ok && e.Class != playlist.Unsupported
}

func (l *Loop) stop() {
	l.setState(StateStopping)
	l.closeOutput()

	if l.opts.Shuffle {
		l.playlist.Shuffle().Reset(l.playlist.Len(), false)
	}
	l.setState(StateIdle)

	if l.deferred {
		l.deferred = false
		l.applySettings()
	}
}

func (l *Loop) quit() {
	l.closeOutput()
	l.setState(StateQuit)
}

func (l *Loop) closeOutput() {
	if !l.outputOpen {
		return
	}
	l.output.Flush()
	if err := l.output.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to close output device")
	}
	l.outputOpen = false
}

// dispatch applies an extended command. If playback has to change because
// of it, the returned command says how and ok is true.
func (l *Loop) dispatch(cmd command.Command) (next command.Command, ok bool) {
	next = command.New(command.None)
	defer l.publish()

	switch cmd.Kind {
	case command.ChangeVolume:
		l.volume = clampVolume(l.volume + cmd.Arg)
		l.logger.Info().Int("volume", l.volume).Msg("Volume changed")

	case command.AddFiles:
		ctx := l.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		before := l.playlist.Len()
		added := l.playlist.Add(ctx, cmd.Paths, l.opts.Add)
		if added > 0 && cmd.Arg&command.SelectFirst != 0 {
			l.playlist.Select(before)
		}
		l.logger.Info().
			Int("requested", len(cmd.Paths)).
			Int("added", added).
			Msg("Added files")

	case command.ClearPlaylist:
		l.playlist.Clear()
		l.failures = 0
		l.logger.Info().Msg("Playlist cleared")
		if l.active {
			return command.New(command.Stop), true
		}

	case command.DeleteEntry:
		wasPlaying := l.playlist.Delete(cmd.Index)
		if !l.active {
			break
		}
		if l.playlist.Len() == 0 {
			return command.New(command.Stop), true
		}
		if wasPlaying {
			// The selection moved back one; the entry that took the
			// deleted one's place is next in order.
			if cmd.Index == 0 {
				return command.New(command.Load), true
			}
			return command.New(command.Next), true
		}

	case command.UniqPlaylist:
		changed := l.playlist.Uniq()
		l.logger.Info().Int("entries", l.playlist.Len()).Bool("selection_moved", changed).Msg("Removed duplicates")

	case command.RefinePlaylist:
		changed := l.playlist.Refine()
		l.logger.Info().Int("entries", l.playlist.Len()).Bool("selection_moved", changed).Msg("Removed unsupported entries")
		if changed && l.active {
			return command.New(command.Load), true
		}

	case command.RotatePlaylist:
		l.playlist.Rotate(cmd.Index, cmd.Arg)

	case command.ApplySettings:
		if l.active {
			// Settings are applied once the engine has been stopped
			l.deferred = true
			return command.New(command.Stop), true
		}
		l.applySettings()

	default:
		l.logger.Warn().Str("command", cmd.Kind.String()).Msg("Ignoring unknown command")
	}

	return next, false
}

func (l *Loop) applySettings() {
	if l.settings == nil {
		return
	}
	old := l.opts
	l.opts = l.settings()

	// The configured volume replaces any relative changes made since
	l.volume = clampVolume(l.opts.Volume)
	if l.opts.Shuffle && !old.Shuffle {
		// Entries visited before shuffle was switched off stay visited
		l.playlist.Shuffle().Reset(l.playlist.Len(), true)
	}

	l.logger.Info().
		Bool("loop", l.opts.Loop).
		Bool("shuffle", l.opts.Shuffle).
		Bool("continue", l.opts.Continue).
		Bool("auto_exit", l.opts.AutoExit).
		Int("volume", l.volume).
		Msg("Applied settings")
}

func (l *Loop) setState(s State) {
	if l.state == s {
		return
	}
	l.logger.Debug().Str("from", l.state.String()).Str("to", s.String()).Msg("State change")
	l.state = s
	l.publish()
}

func (l *Loop) publish() {
	if l.observer != nil {
		l.observer.StatusChanged(l.Status())
	}
}

// Controls implementation, used by the engine while a track is loaded

// Poll returns the next queued command without blocking
func (l *Loop) Poll() (command.Command, bool) {
	return l.queue.Poll()
}

// Dispatch handles a non-transport command while the engine is running
func (l *Loop) Dispatch(cmd command.Command) (command.Command, bool) {
	return l.dispatch(cmd)
}

// TogglePause flips the pause flag
func (l *Loop) TogglePause() bool {
	l.paused = !l.paused
	l.logger.Info().Bool("paused", l.paused).Msg("Pause toggled")
	l.publish()
	return l.paused
}

// Paused reports the pause flag
func (l *Loop) Paused() bool {
	return l.paused
}

// Volume returns the amplification in percent
func (l *Loop) Volume() int {
	return l.volume
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}
