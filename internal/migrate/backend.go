package migrate

import (
	"context"
	"sync"
)

// MemoryBackend keeps state in process. It backs tests and the in-memory
// store driver.
type MemoryBackend struct {
	mu      sync.Mutex
	state   State
	commits int
}

// NewMemoryBackend seeds a backend with st.
func NewMemoryBackend(st State) *MemoryBackend {
	return &MemoryBackend{state: st.Clone()}
}

// LoadState implements Backend.
func (b *MemoryBackend) LoadState(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone(), nil
}

// ReplaceState implements Backend.
func (b *MemoryBackend) ReplaceState(ctx context.Context, st State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = st.Clone()
	b.commits++
	return nil
}

// State returns a copy of the held state.
func (b *MemoryBackend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

// Commits reports how many times ReplaceState succeeded.
func (b *MemoryBackend) Commits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commits
}
