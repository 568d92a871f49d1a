package resilience

import "sync"

// Affinity remembers the name of the provider that most recently succeeded.
// A [FallbackGroup] holding an Affinity tries that provider first.
//
// The zero value is an empty cell ready for use. Concurrent updates are
// last-writer-wins.
type Affinity struct {
	mu   sync.RWMutex
	name string
}

// Get returns the remembered provider name and whether one is set.
func (a *Affinity) Get() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name, a.name != ""
}

// Set remembers name.
func (a *Affinity) Set(name string) {
	a.mu.Lock()
	a.name = name
	a.mu.Unlock()
}

// Clear forgets the remembered provider.
func (a *Affinity) Clear() {
	a.mu.Lock()
	a.name = ""
	a.mu.Unlock()
}

// clearIf forgets the remembered provider only if it is still name, so a
// concurrent success recorded in between is kept.
func (a *Affinity) clearIf(name string) {
	a.mu.Lock()
	if a.name == name {
		a.name = ""
	}
	a.mu.Unlock()
}
