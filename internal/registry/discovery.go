package registry

import (
	"fmt"
	"sort"
)

// Candidate is one discovered object with the key that orders it. Keys
// must be identical on every peer.
type Candidate struct {
	Key string
	Ref Ref
}

func NewCandidate[T any](key string, obj *T) Candidate {
	return Candidate{Key: key, Ref: Weak(obj)}
}

// RegisterAll registers candidates in key order and returns how many were
// enrolled. Two participating candidates sharing a key is a configuration
// error, reported before anything is registered.
func (r *Registry) RegisterAll(candidates []Candidate) (int, error) {
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Key < ordered[j].Key
	})

	seen := make(map[string]struct{}, len(ordered))
	for _, c := range ordered {
		if !c.Ref.Participates() {
			continue
		}
		if _, ok := seen[c.Key]; ok {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateKey, c.Key)
		}
		seen[c.Key] = struct{}{}
	}

	registered := 0
	for _, c := range ordered {
		ok, err := r.RegisterObject(c.Ref)
		if err != nil {
			return registered, fmt.Errorf("registry: candidate %q: %w", c.Key, err)
		}
		if ok {
			registered++
		}
	}
	return registered, nil
}
