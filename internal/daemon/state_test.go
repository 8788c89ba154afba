package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jfmyers9/cadenza/internal/player"
	"github.com/jfmyers9/cadenza/internal/playlist"
)

func newTestState(t *testing.T, interval time.Duration) *State {
	t.Helper()
	dir := t.TempDir()
	s := NewState(filepath.Join(dir, "status.json"))
	s.persistInterval = interval
	return s
}

func status(state player.State, index int, path string) player.Status {
	return player.Status{
		State:  state,
		Index:  index,
		Entry:  playlist.Entry{Path: path, Title: filepath.Base(path)},
		Count:  3,
		Volume: 100,
	}
}

func TestUpdateTracksPlayTime(t *testing.T) {
	s := newTestState(t, time.Hour)

	if err := s.Update(status(player.StateLoading, 0, "/m/a.mid")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.GetState().Active() {
		t.Fatal("loading should not count as active")
	}

	if err := s.Update(status(player.StatePlaying, 0, "/m/a.mid")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	started := s.GetState().StartTime
	if started.IsZero() {
		t.Fatal("start time not set when playback began")
	}

	time.Sleep(20 * time.Millisecond)
	_ = s.Update(status(player.StatePaused, 0, "/m/a.mid"))
	paused := s.GetState()
	if paused.PausedAt.IsZero() {
		t.Fatal("paused at not set")
	}

	time.Sleep(20 * time.Millisecond)
	_ = s.Update(status(player.StatePlaying, 0, "/m/a.mid"))
	resumed := s.GetState()
	if !resumed.PausedAt.IsZero() {
		t.Error("paused at not cleared on resume")
	}
	if resumed.TotalPlayTime < 20*time.Millisecond {
		t.Errorf("total play time = %v, want at least 20ms", resumed.TotalPlayTime)
	}

	// Time spent paused does not count
	played := resumed.Played(resumed.StartTime)
	if played != resumed.TotalPlayTime {
		t.Errorf("played = %v, want %v", played, resumed.TotalPlayTime)
	}
}

func TestUpdateNewTrackResets(t *testing.T) {
	s := newTestState(t, time.Hour)

	_ = s.Update(status(player.StatePlaying, 0, "/m/a.mid"))
	_ = s.SetNotice("cannot open output")
	_ = s.Update(status(player.StatePlaying, 1, "/m/b.mid"))

	got := s.GetState()
	if got.Path != "/m/b.mid" || got.Name() != "b.mid" {
		t.Errorf("state = %+v, want b.mid", got)
	}
	if got.TotalPlayTime != 0 {
		t.Errorf("total play time = %v, want 0 for a new track", got.TotalPlayTime)
	}
	if got.Notice != "" {
		t.Errorf("notice = %q, want cleared by a new track", got.Notice)
	}
}

func TestStatusFileRoundTrip(t *testing.T) {
	s := newTestState(t, time.Hour)
	_ = s.Update(status(player.StatePlaying, 2, "/m/c.mid"))

	got, err := ReadState(s.filePath)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if got.State != "playing" || got.Index != 2 || got.Path != "/m/c.mid" || got.PID != os.Getpid() {
		t.Errorf("status = %+v", got)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, _ = ReadState(s.filePath)
	if got.State != "quit" || got.Path != "" {
		t.Errorf("status after reset = %+v", got)
	}
}

func TestThrottledPersist_SkipsWhenIntervalNotElapsed(t *testing.T) {
	s := newTestState(t, 1*time.Hour) // very long interval

	// A state change persists immediately
	if err := s.Update(status(player.StatePlaying, 0, "/m/a.mid")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	info1, err := os.Stat(s.filePath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	// A volume change on the same track is throttled
	st := status(player.StatePlaying, 0, "/m/a.mid")
	st.Volume = 150
	if err := s.Update(st); err != nil {
		t.Fatalf("Update: %v", err)
	}

	info2, err := os.Stat(s.filePath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if info2.ModTime() != info1.ModTime() {
		t.Error("throttledPersist wrote to disk when interval had not elapsed")
	}

	// dirty flag should be set
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		t.Error("expected dirty flag to be true after throttledPersist skip")
	}
}

func TestThrottledPersist_WritesWhenIntervalElapsed(t *testing.T) {
	s := newTestState(t, 10*time.Millisecond) // very short interval

	if err := s.Update(status(player.StatePlaying, 0, "/m/b.mid")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Wait for interval to elapse
	time.Sleep(20 * time.Millisecond)

	// throttledPersist should write now
	s.mu.Lock()
	s.dirty = true // ensure dirty
	err := s.throttledPersist()
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("throttledPersist: %v", err)
	}

	// dirty flag should be cleared after successful persist
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		t.Error("expected dirty flag to be false after throttledPersist write")
	}
}

func TestFlush_WritesWhenDirty(t *testing.T) {
	s := newTestState(t, 1*time.Hour)

	if err := s.Update(status(player.StatePlaying, 0, "/m/c.mid")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	before, err := os.ReadFile(s.filePath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// Modify state to produce different output
	s.mu.Lock()
	s.current.Volume = 300
	s.dirty = true
	s.mu.Unlock()

	// Flush should write
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	after, err := os.ReadFile(s.filePath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(before) == string(after) {
		t.Error("Flush did not write updated state to disk")
	}

	// dirty flag should be cleared
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		t.Error("expected dirty flag to be false after Flush")
	}
}

func TestFlush_NoOpWhenClean(t *testing.T) {
	s := newTestState(t, 1*time.Hour)

	if err := s.Update(status(player.StatePlaying, 0, "/m/d.mid")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// dirty should be false after a state change (it calls persist directly)
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		t.Fatal("expected dirty=false after state change persist")
	}

	info1, err := os.Stat(s.filePath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	// Flush on clean state should be no-op
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	info2, err := os.Stat(s.filePath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	if info2.ModTime() != info1.ModTime() {
		t.Error("Flush wrote to disk when state was clean")
	}
}
