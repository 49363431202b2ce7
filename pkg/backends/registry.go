// Package backends tracks the model backends chats may be pinned to.
package backends

// Registry is the fixed set of backend names configured at startup. The
// first entry is the default for new chats.
type Registry struct {
	names []string
	set   map[string]struct{}
}

// NewRegistry builds a registry from the configured name list. Duplicates
// and empty entries are dropped.
func NewRegistry(names []string) *Registry {
	r := &Registry{set: map[string]struct{}{}}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := r.set[n]; ok {
			continue
		}
		r.set[n] = struct{}{}
		r.names = append(r.names, n)
	}
	return r
}

// Has reports whether name is a configured backend.
func (r *Registry) Has(name string) bool {
	_, ok := r.set[name]
	return ok
}

// Names returns the configured backends in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Default returns the first configured backend, or "".
func (r *Registry) Default() string {
	if len(r.names) == 0 {
		return ""
	}
	return r.names[0]
}
