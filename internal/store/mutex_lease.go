package store

import (
	"context"
	"sync"
)

// MutexLease is the in-process lease for single-instance deployments and
// tests. Names map to independent try-locks.
type MutexLease struct {
	mu    sync.Mutex
	held  map[string]bool
}

func NewMutexLease() *MutexLease {
	return &MutexLease{held: make(map[string]bool)}
}

func (l *MutexLease) TryAcquire(_ context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *MutexLease) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
