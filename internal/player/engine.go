package player

import (
	"context"

	"github.com/jfmyers9/cadenza/internal/command"
)

// Track is what the loop hands to the engine
type Track struct {
	Path   string
	Title  string
	Index  int // position in the playlist
	Volume int // amplification in percent
}

// Engine plays one track at a time.
//
// Play blocks until the track ends or a command interrupts it, and returns
// the outcome as a command: TuneEnd, Error, or the transport command that
// interrupted playback (Next, Prev, Stop, Quit, Load, Jump). The loop treats
// the result exactly like a dequeued command.
type Engine interface {
	Play(ctx context.Context, track Track, ctl Controls) command.Command
}

// Controls is the engine's view of the loop while a track is loaded. All
// methods must be called from the goroutine running Play.
type Controls interface {
	// Poll returns the next queued command without blocking
	Poll() (command.Command, bool)

	// Dispatch handles a non-transport command on behalf of the engine. If
	// the command requires playback to change (e.g. the playing entry was
	// deleted), it returns the command the engine must stop with.
	Dispatch(cmd command.Command) (command.Command, bool)

	// TogglePause flips the pause flag and returns the new value
	TogglePause() bool

	// Paused reports whether playback should be paused
	Paused() bool

	// Volume returns the current amplification in percent
	Volume() int
}

// Output is the audio output device owned by the loop
type Output interface {
	Open() error
	// Flush drains pending audio before the device is closed
	Flush()
	Close() error
}

// nopOutput is used when no output device is configured
type nopOutput struct{}

func (nopOutput) Open() error  { return nil }
func (nopOutput) Flush()       {}
func (nopOutput) Close() error { return nil }
