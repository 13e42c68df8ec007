package probe

import "sort"

// Results maps key paths to the scopes confirmed for them, in discovery order.
type Results struct {
	scopes map[string][]string
	seen   map[string]map[string]bool
}

func NewResults() *Results {
	return &Results{scopes: make(map[string][]string), seen: make(map[string]map[string]bool)}
}

// Add records scope for keyPath and reports whether it is the key's first confirmed scope.
func (r *Results) Add(keyPath, scope string) bool {
	first := len(r.scopes[keyPath]) == 0
	if r.seen[keyPath] == nil {
		r.seen[keyPath] = make(map[string]bool)
	}
	if !r.seen[keyPath][scope] {
		r.seen[keyPath][scope] = true
		r.scopes[keyPath] = append(r.scopes[keyPath], scope)
	}
	return first
}

// Keys returns the confirmed key paths, sorted.
func (r *Results) Keys() []string {
	keys := make([]string, 0, len(r.scopes))
	for k := range r.scopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Results) Scopes(keyPath string) []string {
	return append([]string(nil), r.scopes[keyPath]...)
}

func (r *Results) Len() int { return len(r.scopes) }
