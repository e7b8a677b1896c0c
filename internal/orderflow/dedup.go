package orderflow

// dedupCapacity bounds the alert-suppression window.
const dedupCapacity = 100

// dedupSet is a bounded insertion-ordered string set. When full, inserting
// evicts the oldest key, so a suppressed alert becomes eligible again once
// enough newer keys have passed through.
type dedupSet struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newDedupSet(capacity int) *dedupSet {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupSet{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// insert adds key and reports true, or reports false if key is already
// present.
func (d *dedupSet) insert(key string) bool {
	if _, ok := d.seen[key]; ok {
		return false
	}
	if len(d.order) == d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.order = append(d.order, key)
	d.seen[key] = struct{}{}
	return true
}

func (d *dedupSet) contains(key string) bool {
	_, ok := d.seen[key]
	return ok
}

func (d *dedupSet) len() int { return len(d.order) }
