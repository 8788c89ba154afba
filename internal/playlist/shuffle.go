package playlist

import "math/rand/v2"

// Shuffle produces a randomized traversal of playlist indices in which every
// index is visited once per pass.
//
// perm is always a permutation of 0..n-1 for the current playlist length;
// perm[:pos] holds the indices already visited in this pass. The unvisited
// tail is shuffled lazily, one Fisher-Yates step per draw.
type Shuffle struct {
	perm []int
	pos  int
	rng  *rand.Rand
}

// NewShuffle creates an empty sequencer. A nil rng uses a randomly seeded
// source.
func NewShuffle(rng *rand.Rand) *Shuffle {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Shuffle{rng: rng}
}

// Len returns the permutation length
func (s *Shuffle) Len() int {
	return len(s.perm)
}

// Visited returns how many indices have been drawn in the current pass
func (s *Shuffle) Visited() int {
	return s.pos
}

// Remaining returns how many indices are left in the current pass
func (s *Shuffle) Remaining() int {
	return len(s.perm) - s.pos
}

// Reset rebuilds the permutation for a playlist of n entries. With preserve
// set and a pass in progress, the indices already visited stay visited so a
// reshuffle mid-pass does not repeat them right away. Otherwise a fresh pass
// starts.
func (s *Shuffle) Reset(n int, preserve bool) {
	var visited []int
	if preserve && s.pos > 0 && s.pos < len(s.perm) {
		for _, idx := range s.perm[:s.pos] {
			if idx < n {
				visited = append(visited, idx)
			}
		}
	}
	if len(visited) >= n {
		visited = nil
	}

	seen := make([]bool, n)
	perm := make([]int, 0, n)
	for _, idx := range visited {
		seen[idx] = true
		perm = append(perm, idx)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			perm = append(perm, i)
		}
	}

	s.perm = perm
	s.pos = len(visited)
}

// Extend grows the permutation to n entries; the new indices join the
// unvisited part of the current pass
func (s *Shuffle) Extend(n int) {
	for i := len(s.perm); i < n; i++ {
		s.perm = append(s.perm, i)
	}
}

// Next draws the next index of the pass. Drawn indices rejected by valid are
// consumed and the draw repeats. It reports false once the pass is exhausted.
func (s *Shuffle) Next(valid func(int) bool) (int, bool) {
	for s.pos < len(s.perm) {
		j := s.pos + s.rng.IntN(len(s.perm)-s.pos)
		s.perm[s.pos], s.perm[j] = s.perm[j], s.perm[s.pos]
		idx := s.perm[s.pos]
		s.pos++
		if valid == nil || valid(idx) {
			return idx, true
		}
	}
	return -1, false
}

// Prev steps back to the previously drawn index
func (s *Shuffle) Prev() (int, bool) {
	if s.pos < 2 {
		return -1, false
	}
	s.pos--
	return s.perm[s.pos-1], true
}

// Mark records index as visited in the current pass when it was selected
// without a draw. Indices already visited are left where they are.
func (s *Shuffle) Mark(index int) bool {
	for j := s.pos; j < len(s.perm); j++ {
		if s.perm[j] == index {
			s.perm[s.pos], s.perm[j] = s.perm[j], s.perm[s.pos]
			s.pos++
			return true
		}
	}
	return false
}

// Delete drops index from the permutation and compacts the indices above it
func (s *Shuffle) Delete(index int) {
	n := len(s.perm)
	if index < 0 || index >= n {
		return
	}
	mapping := make([]int, n)
	for i := range mapping {
		switch {
		case i < index:
			mapping[i] = i
		case i == index:
			mapping[i] = -1
		default:
			mapping[i] = i - 1
		}
	}
	s.Remap(mapping, n-1)
}

// Remap rebuilds the permutation after the playlist was rearranged.
// mapping[old] is the new index of an entry, or -1 if it was removed; n is
// the new playlist length. Visit order is kept for surviving entries.
func (s *Shuffle) Remap(mapping []int, n int) {
	seen := make([]bool, n)
	visited := make([]int, 0, s.pos)
	rest := make([]int, 0, n)

	translate := func(old int) int {
		if old < 0 || old >= len(mapping) {
			return -1
		}
		idx := mapping[old]
		if idx < 0 || idx >= n || seen[idx] {
			return -1
		}
		seen[idx] = true
		return idx
	}

	for _, old := range s.perm[:s.pos] {
		if idx := translate(old); idx >= 0 {
			visited = append(visited, idx)
		}
	}
	for _, old := range s.perm[s.pos:] {
		if idx := translate(old); idx >= 0 {
			rest = append(rest, idx)
		}
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			rest = append(rest, i)
		}
	}

	s.perm = append(visited, rest...)
	s.pos = len(visited)
}
