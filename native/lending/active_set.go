package lending

// activeSet tracks in-progress auction ids in a compact slice plus an
// id→position index. Remove swaps the removed id with the last one and
// truncates, so it is O(1) and does NOT preserve insertion order.
type activeSet struct {
	ids []uint64
	pos map[uint64]int
}

func newActiveSet(ids []uint64) *activeSet {
	set := &activeSet{ids: make([]uint64, 0, len(ids)), pos: make(map[uint64]int, len(ids))}
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

// Add appends id unless it is already present.
func (s *activeSet) Add(id uint64) {
	if _, ok := s.pos[id]; ok {
		return
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
}

// Remove drops id and reports whether it was present.
func (s *activeSet) Remove(id uint64) bool {
	idx, ok := s.pos[id]
	if !ok {
		return false
	}
	last := len(s.ids) - 1
	moved := s.ids[last]
	s.ids[idx] = moved
	s.pos[moved] = idx
	s.ids = s.ids[:last]
	delete(s.pos, id)
	return true
}

func (s *activeSet) Len() int { return len(s.ids) }

// IDs returns a copy of the ids in storage order.
func (s *activeSet) IDs() []uint64 {
	out := make([]uint64, len(s.ids))
	copy(out, s.ids)
	return out
}
