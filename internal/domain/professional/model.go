package professional

import (
	"time"

	"github.com/google/uuid"
)

// Professional maps to the professional table. The directory is read-only
// from this service's point of view; rows are maintained elsewhere.
type Professional struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	Price     *float64  `db:"price" json:"price,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
