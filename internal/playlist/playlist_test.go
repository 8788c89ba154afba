package playlist

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
)

// fakeInspect classifies by name so tests need no files on disk
func fakeInspect(path string) Entry {
	class := Valid
	if strings.Contains(path, "bad") {
		class = Unsupported
	}
	return Entry{Path: path, Class: class}
}

func newTestPlaylist(t *testing.T, paths ...string) *Playlist {
	t.Helper()
	p := New(WithInspector(fakeInspect), WithRand(rand.New(rand.NewPCG(1, 2))))
	if len(paths) > 0 {
		p.Add(context.Background(), paths, AddOptions{})
	}
	return p
}

func assertPaths(t *testing.T, p *Playlist, want ...string) {
	t.Helper()
	got := p.Paths()
	if len(got) != len(want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("paths = %v, want %v", got, want)
		}
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		add      []string
		opts     AddOptions
		added    int
		want     []string
	}{
		{
			name:  "plain append",
			add:   []string{"/m/a.mid", "/m/b.mid"},
			added: 2,
			want:  []string{"/m/a.mid", "/m/b.mid"},
		},
		{
			name:     "duplicates allowed without dedup",
			existing: []string{"/m/a.mid"},
			add:      []string{"/m/a.mid"},
			added:    1,
			want:     []string{"/m/a.mid", "/m/a.mid"},
		},
		{
			name:     "dedup against existing and within batch",
			existing: []string{"/m/a.mid"},
			add:      []string{"/m/a.mid", "/m/b.mid", "/m/./b.mid"},
			opts:     AddOptions{Dedup: true},
			added:    1,
			want:     []string{"/m/a.mid", "/m/b.mid"},
		},
		{
			name:  "filter unsupported",
			add:   []string{"/m/a.mid", "/m/bad.txt", "/m/c.mid"},
			opts:  AddOptions{Filter: true},
			added: 2,
			want:  []string{"/m/a.mid", "/m/c.mid"},
		},
		{
			name:  "unsupported kept without filter",
			add:   []string{"/m/bad.txt"},
			added: 1,
			want:  []string{"/m/bad.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlaylist(t, tt.existing...)
			added := p.Add(context.Background(), tt.add, tt.opts)
			if added != tt.added {
				t.Errorf("added = %d, want %d", added, tt.added)
			}
			assertPaths(t, p, tt.want...)
			if p.Shuffle().Len() != p.Len() {
				t.Errorf("shuffle len = %d, want %d", p.Shuffle().Len(), p.Len())
			}
		})
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name        string
		selected    int
		index       int
		wasSelected bool
		wantSel     int
		want        []string
	}{
		{"before selection", 2, 0, false, 1, []string{"/b", "/c", "/d"}},
		{"the selection", 2, 2, true, 1, []string{"/a", "/b", "/d"}},
		{"after selection", 1, 3, false, 1, []string{"/a", "/b", "/c"}},
		{"first while selected", 0, 0, true, 0, []string{"/b", "/c", "/d"}},
		{"last while selected", 3, 3, true, 2, []string{"/a", "/b", "/c"}},
		{"out of range", 1, 9, false, 1, []string{"/a", "/b", "/c", "/d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlaylist(t, "/a", "/b", "/c", "/d")
			p.Select(tt.selected)

			if got := p.Delete(tt.index); got != tt.wasSelected {
				t.Errorf("Delete = %v, want %v", got, tt.wasSelected)
			}
			if p.Selected() != tt.wantSel {
				t.Errorf("selected = %d, want %d", p.Selected(), tt.wantSel)
			}
			assertPaths(t, p, tt.want...)
		})
	}
}

func TestDeleteLastEntry(t *testing.T) {
	p := newTestPlaylist(t, "/a")
	if !p.Delete(0) {
		t.Error("expected deleting the only entry to report the selection")
	}
	if p.Len() != 0 || p.Selected() != 0 {
		t.Errorf("len = %d selected = %d, want 0 0", p.Len(), p.Selected())
	}
}

func TestUniqScenario(t *testing.T) {
	p := newTestPlaylist(t, "/m/a.mid", "/m/b.mid", "/m/a.mid")
	p.Select(2)

	if !p.Uniq() {
		t.Error("expected selection change")
	}
	assertPaths(t, p, "/m/a.mid", "/m/b.mid")
	if p.Selected() != 0 {
		t.Errorf("selected = %d, want 0", p.Selected())
	}
}

func TestUniqNonContiguousDuplicates(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/b", "/c", "/b", "/a", "/c", "/d")
	p.Select(5) // second "/c"

	if !p.Uniq() {
		t.Error("expected selection change")
	}
	assertPaths(t, p, "/a", "/b", "/c", "/d")
	if p.Selected() != 2 {
		t.Errorf("selected = %d, want 2 (first /c)", p.Selected())
	}
}

func TestUniqKeepsSelectedSurvivor(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/a", "/b")
	p.Select(2)

	if p.Uniq() {
		t.Error("selection did not move to another entry, expected false")
	}
	if p.Selected() != 1 {
		t.Errorf("selected = %d, want 1", p.Selected())
	}
}

func TestUniqIdempotent(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/b", "/a", "/c", "/b")
	p.Uniq()
	before := p.Paths()

	if p.Uniq() {
		t.Error("second Uniq reported a change")
	}
	assertPaths(t, p, before...)
}

func TestRefine(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/bad1", "/b", "/bad2")
	p.Select(1)

	if !p.Refine() {
		t.Error("expected selection change")
	}
	assertPaths(t, p, "/a", "/b")
	if p.Selected() != 1 {
		t.Errorf("selected = %d, want 1 (next survivor /b)", p.Selected())
	}
}

func TestRefineSelectedAtTail(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/b", "/bad")
	p.Select(2)

	p.Refine()
	if p.Selected() != 1 {
		t.Errorf("selected = %d, want 1", p.Selected())
	}
}

func TestRefineAllUnsupported(t *testing.T) {
	p := newTestPlaylist(t, "/bad1", "/bad2")
	p.Refine()
	if p.Len() != 0 || p.Selected() != 0 {
		t.Errorf("len = %d selected = %d, want 0 0", p.Len(), p.Selected())
	}
}

func TestRotate(t *testing.T) {
	tests := []struct {
		name     string
		selected int
		cursor   int
		dir      int
		want     []string
		wantSel  int
	}{
		// Cursor entry moves to the tail, entries after it shift up, selection follows
		{"forward selected at cursor", 1, -1, 1, []string{"/a", "/c", "/d", "/b"}, 3},
		{"forward selection after cursor", 2, 1, 1, []string{"/a", "/c", "/d", "/b"}, 1},
		{"forward selection before cursor", 0, 1, 1, []string{"/a", "/c", "/d", "/b"}, 0},
		{"backward tail to cursor", 1, 1, -1, []string{"/a", "/d", "/b", "/c"}, 2},
		{"backward selected tail", 3, 1, -1, []string{"/a", "/d", "/b", "/c"}, 1},
		{"cursor at tail is a no-op", 3, -1, 1, []string{"/a", "/b", "/c", "/d"}, 3},
		{"zero direction is a no-op", 1, -1, 0, []string{"/a", "/b", "/c", "/d"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlaylist(t, "/a", "/b", "/c", "/d")
			p.Select(tt.selected)
			selectedPath := p.Paths()[tt.selected]

			p.Rotate(tt.cursor, tt.dir)

			assertPaths(t, p, tt.want...)
			if p.Selected() != tt.wantSel {
				t.Errorf("selected = %d, want %d", p.Selected(), tt.wantSel)
			}
			if cur, _ := p.Current(); cur.Path != selectedPath {
				t.Errorf("selected entry = %s, want %s", cur.Path, selectedPath)
			}
		})
	}
}

func TestClear(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/b")
	p.Select(1)
	p.Clear()

	if p.Len() != 0 || p.Selected() != 0 {
		t.Errorf("len = %d selected = %d, want 0 0", p.Len(), p.Selected())
	}
	if p.Shuffle().Len() != 0 {
		t.Errorf("shuffle len = %d, want 0", p.Shuffle().Len())
	}
}

func TestEmptyPlaylistOperations(t *testing.T) {
	p := newTestPlaylist(t)

	if p.Delete(0) {
		t.Error("Delete on empty playlist reported selection")
	}
	if p.Uniq() {
		t.Error("Uniq on empty playlist reported change")
	}
	if p.Refine() {
		t.Error("Refine on empty playlist reported change")
	}
	p.Rotate(0, 1)
	p.Select(5)
	if p.Selected() != 0 {
		t.Errorf("selected = %d, want 0", p.Selected())
	}
	if _, ok := p.Current(); ok {
		t.Error("Current on empty playlist returned an entry")
	}
}

func TestSelectionInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	names := []string{"/a", "/b", "/c", "/bad", "/d"}
	p := newTestPlaylist(t)
	ctx := context.Background()

	for step := 0; step < 2000; step++ {
		switch rng.IntN(7) {
		case 0, 1:
			n := 1 + rng.IntN(3)
			var batch []string
			for i := 0; i < n; i++ {
				batch = append(batch, names[rng.IntN(len(names))])
			}
			p.Add(ctx, batch, AddOptions{Dedup: rng.IntN(2) == 0})
		case 2:
			p.Delete(rng.IntN(p.Len() + 1))
		case 3:
			p.Uniq()
		case 4:
			p.Refine()
		case 5:
			p.Rotate(rng.IntN(p.Len()+1)-1, rng.IntN(3)-1)
		case 6:
			p.Select(rng.IntN(p.Len() + 1))
		}

		if p.Len() > 0 && (p.Selected() < 0 || p.Selected() >= p.Len()) {
			t.Fatalf("step %d: selected %d out of range for %d entries", step, p.Selected(), p.Len())
		}
		if p.Shuffle().Len() != p.Len() {
			t.Fatalf("step %d: shuffle len %d, playlist len %d", step, p.Shuffle().Len(), p.Len())
		}
		assertPermutation(t, p.Shuffle(), p.Len())
	}
}

func TestPlayableCount(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/bad", "/b")
	p.Reclassify(2, Error)

	if got := p.PlayableCount(); got != 2 {
		t.Errorf("PlayableCount = %d, want 2", got)
	}
}

func TestRevisionTracksEntryChanges(t *testing.T) {
	p := newTestPlaylist(t, "/a", "/b", "/a", "/bad")
	rev := p.Revision()

	steps := []struct {
		name    string
		mutate  func()
		changed bool
	}{
		{"select", func() { p.Select(1) }, false},
		{"reclassify", func() { p.Reclassify(0, Error) }, false},
		{"uniq", func() { p.Uniq() }, true},
		{"uniq again", func() { p.Uniq() }, false},
		{"refine", func() { p.Refine() }, true},
		{"rotate", func() { p.Rotate(0, 1) }, true},
		{"add nothing", func() { p.Add(context.Background(), nil, AddOptions{}) }, false},
		{"delete", func() { p.Delete(0) }, true},
		{"clear", func() { p.Clear() }, true},
		{"clear empty", func() { p.Clear() }, false},
	}
	for _, st := range steps {
		st.mutate()
		if got := p.Revision() != rev; got != st.changed {
			t.Errorf("%s: revision changed = %v, want %v", st.name, got, st.changed)
		}
		rev = p.Revision()
	}
}
