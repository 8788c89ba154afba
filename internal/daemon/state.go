package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jfmyers9/cadenza/internal/player"
)

// defaultPersistInterval limits how often minor status changes hit the disk
const defaultPersistInterval = 2 * time.Second

// Now is the playback status published for the now command and the TUI
type Now struct {
	State   string `json:"state"`
	Index   int    `json:"index"`
	Count   int    `json:"count"`
	Path    string `json:"path,omitempty"`
	Title   string `json:"title,omitempty"`
	Volume  int    `json:"volume"`
	Shuffle bool   `json:"shuffle"`
	Loop    bool   `json:"loop"`

	// StartTime is when playback started (or resumed); PausedAt is zero
	// unless paused. TotalPlayTime excludes pauses.
	StartTime     time.Time     `json:"start_time"`
	PausedAt      time.Time     `json:"paused_at"`
	TotalPlayTime time.Duration `json:"total_play_time"`

	// Notice is the last problem reported by the loop
	Notice    string    `json:"notice,omitempty"`
	PID       int       `json:"pid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether a track is loaded
func (n Now) Active() bool {
	return n.State == player.StatePlaying.String() || n.State == player.StatePaused.String()
}

// Name returns the title, or the file name when the track has none
func (n Now) Name() string {
	if n.Title != "" {
		return n.Title
	}
	if n.Path == "" {
		return ""
	}
	return filepath.Base(n.Path)
}

// Played returns how long the current track has been playing at now,
// excluding pauses
func (n Now) Played(now time.Time) time.Duration {
	if !n.PausedAt.IsZero() {
		return n.TotalPlayTime + n.PausedAt.Sub(n.StartTime)
	}
	if n.State == player.StatePlaying.String() {
		return n.TotalPlayTime + now.Sub(n.StartTime)
	}
	return n.TotalPlayTime
}

// State manages the published status with thread-safe access and persistence
type State struct {
	mu              sync.RWMutex
	current         Now
	filePath        string // Path to status file for persistence
	persistInterval time.Duration
	lastPersist     time.Time
	dirty           bool // changes not yet on disk
}

// NewState creates a new State. The status of a previous run is not
// restored; it no longer describes anything.
func NewState(filePath string) *State {
	return &State{
		filePath:        filePath,
		persistInterval: defaultPersistInterval,
		current:         Now{State: player.StateIdle.String(), PID: os.Getpid()},
	}
}

// Update folds a loop status into the published state
func (s *State) Update(st player.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current
	next := prev
	next.State = st.State.String()
	next.Index = st.Index
	next.Count = st.Count
	next.Path = st.Entry.Path
	next.Title = st.Entry.Title
	next.Volume = st.Volume
	next.Shuffle = st.Shuffle
	next.Loop = st.Loop

	now := time.Now()
	trackChanged := prev.Path != next.Path || prev.Index != next.Index

	switch {
	case !next.Active():
		next.StartTime = time.Time{}
		next.PausedAt = time.Time{}
		next.TotalPlayTime = 0
	case trackChanged || !prev.Active():
		next.StartTime = now
		next.PausedAt = time.Time{}
		next.TotalPlayTime = 0
		next.Notice = ""
		if st.State == player.StatePaused {
			next.PausedAt = now
		}
	case st.State == player.StatePaused && prev.PausedAt.IsZero():
		next.PausedAt = now
	case st.State == player.StatePlaying && !prev.PausedAt.IsZero():
		// Add time played before the pause to the total
		next.TotalPlayTime += prev.PausedAt.Sub(prev.StartTime)
		next.StartTime = now
		next.PausedAt = time.Time{}
	}

	s.current = next

	if next.State != prev.State || trackChanged {
		return s.persist()
	}
	return s.throttledPersist()
}

// SetNotice records a problem for display
func (s *State) SetNotice(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Notice = msg
	return s.persist()
}

// GetState returns a copy of the current state
func (s *State) GetState() Now {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reset marks playback as finished
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Now{State: player.StateQuit.String(), PID: s.current.PID}
	return s.persist()
}

// Flush writes pending changes skipped by throttling
func (s *State) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	return s.persist()
}

// throttledPersist writes only if persistInterval has elapsed since the
// last write, otherwise it marks the state dirty.
// Must be called with lock held
func (s *State) throttledPersist() error {
	if time.Since(s.lastPersist) < s.persistInterval {
		s.dirty = true
		return nil
	}
	return s.persist()
}

// persist saves the current state to disk
// Must be called with lock held
func (s *State) persist() error {
	if s.filePath == "" {
		return nil // No persistence configured
	}

	s.current.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write atomically via temp file + rename
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return err
	}

	s.lastPersist = time.Now()
	s.dirty = false
	return nil
}

// ReadState loads the status file written by a running daemon
func ReadState(filePath string) (Now, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Now{}, err
	}

	var n Now
	if err := json.Unmarshal(data, &n); err != nil {
		return Now{}, err
	}
	return n, nil
}
