package chat

// dedupSet remembers the most recent message ids in a fixed-capacity ring.
// When full, the oldest id is evicted. Capacity should comfortably exceed the
// number of messages one fetch can return so page-boundary redeliveries are caught.
type dedupSet struct {
	ids  map[string]struct{}
	ring []string
	next int
	full bool
}

func newDedupSet(capacity int) *dedupSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &dedupSet{ids: make(map[string]struct{}, capacity), ring: make([]string, capacity)}
}

func (d *dedupSet) seen(id string) bool {
	_, ok := d.ids[id]
	return ok
}

func (d *dedupSet) markSeen(id string) {
	if d.seen(id) {
		return
	}
	if d.full {
		delete(d.ids, d.ring[d.next])
	}
	d.ring[d.next] = id
	d.ids[id] = struct{}{}
	d.next++
	if d.next == len(d.ring) {
		d.next = 0
		d.full = true
	}
}

func (d *dedupSet) len() int { return len(d.ids) }
