package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned when the professional's lock is already held.
var ErrNotAcquired = errors.New("professional lock not acquired")

// Locker guards the booking critical section per professional. The conflict
// check and the write for one professional must never interleave, across
// instances included.
type Locker interface {
	WithProfessionalLock(ctx context.Context, professionalID uuid.UUID, fn func(ctx context.Context) error) error
}

type localLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLocalLocker returns an in-process locker. Suitable for a single server
// instance and for tests; multi-instance deployments use the Redis locker.
func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *localLocker) WithProfessionalLock(ctx context.Context, professionalID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[professionalID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[professionalID] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
