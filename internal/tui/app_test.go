package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jfmyers9/cadenza/internal/command"
	"github.com/jfmyers9/cadenza/internal/daemon"
	"github.com/jfmyers9/cadenza/internal/history"
	"github.com/jfmyers9/cadenza/internal/instance"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{-time.Second, "00:00"},
		{65 * time.Second, "01:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestRenderNowPlaying(t *testing.T) {
	if got := renderNowPlaying(daemon.Now{}, errors.New("missing")); !strings.Contains(got, "not running") {
		t.Errorf("read error: got %q", got)
	}

	idle := renderNowPlaying(daemon.Now{State: "idle", Notice: "nothing playable in playlist"}, nil)
	if !strings.Contains(idle, "No track playing") || !strings.Contains(idle, "nothing playable") {
		t.Errorf("idle: got %q", idle)
	}

	playing := renderNowPlaying(daemon.Now{
		State: "playing",
		Index: 2,
		Count: 5,
		Path:  "/music/songs/canon.mid",
	}, nil)
	for _, want := range []string{"canon.mid", "/music/songs", "3 / 5", "▶"} {
		if !strings.Contains(playing, want) {
			t.Errorf("playing: %q missing %q", playing, want)
		}
	}

	paused := renderNowPlaying(daemon.Now{State: "paused", Title: "Canon", Path: "/m/c.mid", Count: 1}, nil)
	if !strings.Contains(paused, "Canon") || !strings.Contains(paused, "⏸") {
		t.Errorf("paused: got %q", paused)
	}
}

func TestRenderProgress(t *testing.T) {
	if got := renderProgress(daemon.Now{State: "idle"}, time.Now()); got != "" {
		t.Errorf("idle progress = %q, want empty", got)
	}

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := daemon.Now{
		State:     "playing",
		StartTime: start,
		Volume:    150,
		Shuffle:   true,
	}
	got := renderProgress(now, start.Add(75*time.Second))
	for _, want := range []string{"01:15", "vol 150%", "shuffle"} {
		if !strings.Contains(got, want) {
			t.Errorf("progress %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "loop") {
		t.Errorf("progress %q should not show loop", got)
	}
}

func TestRenderRecent(t *testing.T) {
	if got := renderRecent(nil); !strings.Contains(got, "No recent tracks") {
		t.Errorf("empty: got %q", got)
	}

	start := time.Now()
	got := renderRecent([]history.Play{
		{Path: "/m/a.mid", Result: command.TuneEnd.String(), Started: start, Ended: start.Add(90 * time.Second)},
		{Path: "/m/b.mid", Title: "Bee", Result: command.Error.String(), Started: start, Ended: start},
	})
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), got)
	}
	if !strings.Contains(lines[0], "a.mid") || !strings.Contains(lines[0], "01:30") || !strings.Contains(lines[0], "✓") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Bee") || !strings.Contains(lines[1], "✗") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestHandleKeyEventSendsMessages(t *testing.T) {
	var sent []string
	a := New(DefaultConfig(), Source{
		Send: func(msg instance.Message) error {
			sent = append(sent, msg.Name)
			return nil
		},
	})

	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, ' ', tcell.ModNone))
	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, 'n', tcell.ModNone))
	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone))

	want := []string{instance.NamePause, instance.NamePlayNext, instance.NamePlay}
	if strings.Join(sent, ",") != strings.Join(want, ",") {
		t.Errorf("sent %v, want %v", sent, want)
	}

	// Unmapped keys pass through
	ev := tcell.NewEventKey(tcell.KeyRune, 'z', tcell.ModNone)
	if got := a.handleKeyEvent(ev); got != ev {
		t.Error("unmapped key should be returned")
	}
}

func TestHandleKeyEventSendFailureSetsNotice(t *testing.T) {
	a := New(DefaultConfig(), Source{
		Send: func(instance.Message) error { return errors.New("cadenza is not running") },
	})

	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, 's', tcell.ModNone))

	if !strings.Contains(renderStatus(a.notice), "not running") {
		t.Errorf("notice = %q", a.notice)
	}
}

func TestHandleKeyEventStepsVolume(t *testing.T) {
	var deltas []int
	level := 100
	a := New(DefaultConfig(), Source{
		StepVolume: func(delta int) (int, error) {
			deltas = append(deltas, delta)
			level += delta
			return level, nil
		},
	})

	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, '+', tcell.ModNone))
	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, '=', tcell.ModNone))
	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, '-', tcell.ModNone))
	a.handleKeyEvent(tcell.NewEventKey(tcell.KeyRune, 'v', tcell.ModNone))

	want := []int{volumeStep, volumeStep, -volumeStep, -volumeStep}
	if len(deltas) != len(want) {
		t.Fatalf("deltas = %v, want %v", deltas, want)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("deltas = %v, want %v", deltas, want)
		}
	}
	if a.current.Volume != 100 {
		t.Errorf("shown volume = %d, want 110", a.current.Volume)
	}
}
