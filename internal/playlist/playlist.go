package playlist

import (
	"context"
	"math/rand/v2"

	"github.com/samber/lo"
)

// AddOptions controls how Add treats incoming paths
type AddOptions struct {
	Expand bool // Expand directories and archives into their files
	Dedup  bool // Skip paths already in the playlist
	Filter bool // Skip files classified as Unsupported
}

// Playlist is the ordered list of entries under playback management, with
// the selection cursor and shuffle state kept consistent with it.
//
// A Playlist is not safe for concurrent use; it is owned by the playback loop.
type Playlist struct {
	entries  []Entry
	selected int
	shuffle  *Shuffle
	expander *Expander
	inspect  func(path string) Entry
	revision uint64 // bumped whenever the entry list changes
}

// Option configures a Playlist
type Option func(*Playlist)

// WithExpander sets the expander used when AddOptions.Expand is set
func WithExpander(x *Expander) Option {
	return func(p *Playlist) { p.expander = x }
}

// WithRand sets the random source of the shuffle sequencer
func WithRand(rng *rand.Rand) Option {
	return func(p *Playlist) { p.shuffle = NewShuffle(rng) }
}

// WithInspector replaces file probing, e.g. for tests
func WithInspector(inspect func(path string) Entry) Option {
	return func(p *Playlist) { p.inspect = inspect }
}

// New creates an empty playlist
func New(opts ...Option) *Playlist {
	p := &Playlist{inspect: Inspect}
	for _, opt := range opts {
		opt(p)
	}
	if p.shuffle == nil {
		p.shuffle = NewShuffle(nil)
	}
	return p
}

// Len returns the number of entries
func (p *Playlist) Len() int {
	return len(p.entries)
}

// Selected returns the selection cursor
func (p *Playlist) Selected() int {
	return p.selected
}

// Select moves the selection cursor, clamped to the playlist bounds
func (p *Playlist) Select(index int) {
	p.selected = p.clamp(index)
}

// Entry returns the entry at index
func (p *Playlist) Entry(index int) (Entry, bool) {
	if index < 0 || index >= len(p.entries) {
		return Entry{}, false
	}
	return p.entries[index], true
}

// Current returns the selected entry
func (p *Playlist) Current() (Entry, bool) {
	return p.Entry(p.selected)
}

// Entries returns a copy of all entries
func (p *Playlist) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Paths returns the entry paths in playlist order
func (p *Playlist) Paths() []string {
	return lo.Map(p.entries, func(e Entry, _ int) string { return e.Path })
}

// PlayableCount returns the number of entries not classified Unsupported
func (p *Playlist) PlayableCount() int {
	return lo.CountBy(p.entries, func(e Entry) bool { return e.Class != Unsupported })
}

// Reclassify updates the class of the entry at index
func (p *Playlist) Reclassify(index int, class Class) {
	if index >= 0 && index < len(p.entries) {
		p.entries[index].Class = class
	}
}

// Revision changes each time entries are added, removed or reordered
func (p *Playlist) Revision() uint64 {
	return p.revision
}

// Shuffle returns the shuffle sequencer bound to this playlist
func (p *Playlist) Shuffle() *Shuffle {
	return p.shuffle
}

// Add appends the files named by paths and returns how many entries were
// added
func (p *Playlist) Add(ctx context.Context, paths []string, opts AddOptions) int {
	var candidates []string
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		if opts.Expand && p.expander != nil {
			candidates = append(candidates, p.expander.Expand(ctx, path)...)
		} else {
			candidates = append(candidates, Normalize(path))
		}
	}

	var known map[string]bool
	if opts.Dedup {
		known = make(map[string]bool, len(p.entries)+len(candidates))
		for _, e := range p.entries {
			known[e.Path] = true
		}
	}

	added := 0
	for _, path := range candidates {
		path = Normalize(path)
		if opts.Dedup {
			if known[path] {
				continue
			}
			known[path] = true
		}

		e := p.inspect(path)
		e.Path = path
		if opts.Filter && e.Class == Unsupported {
			continue
		}

		p.entries = append(p.entries, e)
		added++
	}

	if added > 0 {
		p.shuffle.Extend(len(p.entries))
		p.revision++
	}
	return added
}

// Delete removes the entry at index and reports whether it was the
// selected one. The selection moves back by one when the removed entry was
// at or before it.
func (p *Playlist) Delete(index int) bool {
	if index < 0 || index >= len(p.entries) {
		return false
	}

	wasSelected := index == p.selected
	p.entries = append(p.entries[:index], p.entries[index+1:]...)
	if index <= p.selected && p.selected > 0 {
		p.selected--
	}
	p.selected = p.clamp(p.selected)
	p.shuffle.Delete(index)
	p.revision++
	return wasSelected
}

// Uniq removes entries whose path duplicates an earlier entry. If the
// selected entry is removed, the selection moves to the first remaining
// occurrence of its path. It reports whether the selected entry was removed.
func (p *Playlist) Uniq() bool {
	if len(p.entries) == 0 {
		return false
	}

	firstOf := make(map[string]int, len(p.entries))
	drop := make([]bool, len(p.entries))
	for i, e := range p.entries {
		if _, ok := firstOf[e.Path]; ok {
			drop[i] = true
			continue
		}
		firstOf[e.Path] = i
	}

	path := p.entries[p.selected].Path
	return p.remove(drop, func(mapping []int) int {
		return mapping[firstOf[path]]
	})
}

// Refine removes entries classified Unsupported. If the selected entry is
// removed, the selection moves to the next surviving entry (or the last
// one). It reports whether the selected entry was removed.
func (p *Playlist) Refine() bool {
	if len(p.entries) == 0 {
		return false
	}

	drop := lo.Map(p.entries, func(e Entry, _ int) bool { return e.Class == Unsupported })
	sel := p.selected
	return p.remove(drop, func(mapping []int) int {
		for i := sel + 1; i < len(mapping); i++ {
			if mapping[i] >= 0 {
				return mapping[i]
			}
		}
		return len(mapping) // clamped to the last entry
	})
}

// remove drops the flagged entries. relocate picks the new selection when
// the selected entry itself is dropped.
func (p *Playlist) remove(drop []bool, relocate func(mapping []int) int) bool {
	mapping := make([]int, len(p.entries))
	kept := make([]Entry, 0, len(p.entries))
	for i, e := range p.entries {
		if drop[i] {
			mapping[i] = -1
			continue
		}
		mapping[i] = len(kept)
		kept = append(kept, e)
	}
	if len(kept) == len(p.entries) {
		return false
	}

	changed := drop[p.selected]
	newSel := mapping[p.selected]
	if changed {
		newSel = relocate(mapping)
	}

	p.entries = kept
	p.selected = p.clamp(newSel)
	p.shuffle.Remap(mapping, len(kept))
	p.revision++
	return changed
}

// Rotate reorders the playlist around cursor: dir > 0 moves the entry at
// cursor to the tail, dir < 0 moves the tail entry to cursor. A negative
// cursor means the selected entry. The selection keeps pointing at the same
// logical entry.
func (p *Playlist) Rotate(cursor, dir int) {
	n := len(p.entries)
	if n < 2 || dir == 0 {
		return
	}
	if cursor < 0 {
		cursor = p.selected
	}
	if cursor >= n-1 {
		return
	}

	mapping := make([]int, n)
	if dir > 0 {
		moved := p.entries[cursor]
		copy(p.entries[cursor:], p.entries[cursor+1:])
		p.entries[n-1] = moved
		for i := range mapping {
			switch {
			case i < cursor:
				mapping[i] = i
			case i == cursor:
				mapping[i] = n - 1
			default:
				mapping[i] = i - 1
			}
		}
	} else {
		moved := p.entries[n-1]
		copy(p.entries[cursor+1:], p.entries[cursor:n-1])
		p.entries[cursor] = moved
		for i := range mapping {
			switch {
			case i < cursor:
				mapping[i] = i
			case i == n-1:
				mapping[i] = cursor
			default:
				mapping[i] = i + 1
			}
		}
	}

	p.selected = mapping[p.selected]
	p.shuffle.Remap(mapping, n)
	p.revision++
}

// Clear removes all entries
func (p *Playlist) Clear() {
	if len(p.entries) > 0 {
		p.revision++
	}
	p.entries = nil
	p.selected = 0
	p.shuffle.Reset(0, false)
}

func (p *Playlist) clamp(index int) int {
	if index >= len(p.entries) {
		index = len(p.entries) - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}
