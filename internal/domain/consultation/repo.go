package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// List periods relative to now.
const (
	PeriodFuture = "future"
	PeriodPast   = "past"
	PeriodToday  = "today"
)

// ListQuery holds the filters for a list of appointments. Nil fields are not
// applied. Soft-deleted rows are always excluded.
type ListQuery struct {
	ProfessionalID *uuid.UUID
	PatientUserID  *uuid.UUID
	Statuses       []string
	From           *time.Time
	To             *time.Time
	Period         string
}

// Stats is the aggregate view over active appointments.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByType       map[string]int `json:"by_type"`
	Today        int            `json:"today"`
	MonthRevenue float64        `json:"month_revenue"`
}

// Repository is the appointment store. CreateIfFree, UpdateIfFree and
// Reschedule run their conflict check and write atomically; callers still
// serialize bookings per professional through the locker so that the check
// and the write cannot interleave across instances.
type Repository interface {
	// CreateIfFree inserts the appointment unless its window overlaps a
	// blocking appointment of the same professional. Returns ErrSlotConflict
	// on overlap.
	CreateIfFree(ctx context.Context, a *Appointment) error

	// UpdateIfFree persists the appointment unless its (possibly moved)
	// window overlaps a blocking appointment of the same professional,
	// ignoring the appointment itself. Returns ErrSlotConflict on overlap.
	UpdateIfFree(ctx context.Context, a *Appointment) error

	// Reschedule atomically marks orig as RESCHEDULED and inserts its clone,
	// subject to the same conflict rule as CreateIfFree.
	Reschedule(ctx context.Context, orig, clone *Appointment) error

	// HasConflict reports whether any blocking appointment of the
	// professional overlaps [start, end), excluding excludeID when non-nil.
	HasConflict(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, q ListQuery, limit, offset int) ([]*Appointment, int, error)

	// Agenda returns the active blocking appointments whose window starts on
	// the given day, ordered by professional then start time.
	Agenda(ctx context.Context, day time.Time) ([]*Appointment, error)

	Stats(ctx context.Context) (*Stats, error)
}
