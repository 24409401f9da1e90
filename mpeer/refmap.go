package mpeer

// refMap counts outstanding references per peer id.
// Like peerMap it is owned by the worker goroutine.
// Callers resolve redirects before touching it.
type refMap struct {
	counts map[string]uint64
}

func newRefMap() *refMap {
	return &refMap{counts: make(map[string]uint64)}
}

// addRef increments the count for the id and returns the new count.
func (m *refMap) addRef(id string) uint64 {
	m.counts[id]++
	return m.counts[id]
}

// removeRef decrements the count for the id.
// The second return is false when no reference was held.
// A count reaching zero removes the entry; the returned count is
// then zero, telling the caller the peer itself can go.
func (m *refMap) removeRef(id string) (uint64, bool) {
	count, ok := m.counts[id]
	if !ok {
		return 0, false
	}
	count--
	if count == 0 {
		delete(m.counts, id)
		return 0, true
	}
	m.counts[id] = count
	return count, true
}

// move transfers the count from oldID to newID,
// merging with any count already held under newID.
func (m *refMap) move(oldID, newID string) {
	count, ok := m.counts[oldID]
	if !ok {
		return
	}
	delete(m.counts, oldID)
	m.counts[newID] += count
}
