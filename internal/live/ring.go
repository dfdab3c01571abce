package live

// ring is a fixed-size set that forgets its oldest member when full.
type ring struct {
	ids   []string
	index map[string]struct{}
	next  int
}

func newRing(size int) *ring {
	return &ring{ids: make([]string, size), index: make(map[string]struct{}, size)}
}

// add inserts id and reports whether it was new.
func (r *ring) add(id string) bool {
	if _, ok := r.index[id]; ok {
		return false
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.index, old)
	}
	r.ids[r.next] = id
	r.index[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return true
}
