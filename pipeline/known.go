package pipeline

// KnownSet is the set of order ids already on record. It only grows.
type KnownSet struct {
	ids map[string]struct{}
}

// NewKnownSet seeds a set with ids.
func NewKnownSet(ids ...string) *KnownSet {
	ks := &KnownSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		ks.Mark(id)
	}
	return ks
}

// Has reports whether id is known.
func (ks *KnownSet) Has(id string) bool {
	_, ok := ks.ids[id]
	return ok
}

// Mark adds id and reports whether it was new.
func (ks *KnownSet) Mark(id string) bool {
	if id == "" || ks.Has(id) {
		return false
	}
	ks.ids[id] = struct{}{}
	return true
}

// Len returns the number of known ids.
func (ks *KnownSet) Len() int {
	return len(ks.ids)
}
