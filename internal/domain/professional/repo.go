package professional

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no professional matches the id.
var ErrNotFound = errors.New("professional not found")

// Directory is the read-only lookup used when booking appointments.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Professional, int, error)
}
