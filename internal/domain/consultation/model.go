package consultation

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusScheduled   = "SCHEDULED"
	StatusConfirmed   = "CONFIRMED"
	StatusInProgress  = "IN_PROGRESS"
	StatusCompleted   = "COMPLETED"
	StatusCancelled   = "CANCELLED"
	StatusNoShow      = "NO_SHOW"
	StatusRescheduled = "RESCHEDULED"
)

// Consultation types.
const (
	TypeInPerson         = "IN_PERSON"
	TypeTeleconsultation = "TELECONSULTATION"
	TypeFollowUp         = "FOLLOW_UP"
	TypeFirstVisit       = "FIRST_VISIT"
	TypeUrgency          = "URGENCY"
)

// Payment methods.
const (
	PaymentCash       = "CASH"
	PaymentDebitCard  = "DEBIT_CARD"
	PaymentCreditCard = "CREDIT_CARD"
	PaymentPix        = "PIX"
	PaymentInsurance  = "INSURANCE"
	PaymentTransfer   = "TRANSFER"
)

// Who requested a cancellation.
const (
	CancelledByPatient      = "PATIENT"
	CancelledByProfessional = "PROFESSIONAL"
	CancelledBySystem       = "SYSTEM"
)

const (
	DefaultDurationMinutes = 60
	MaxDurationMinutes     = 480
)

var validStatuses = map[string]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
	StatusRescheduled: true,
}

var validTypes = map[string]bool{
	TypeInPerson: true, TypeTeleconsultation: true, TypeFollowUp: true,
	TypeFirstVisit: true, TypeUrgency: true,
}

var validPaymentMethods = map[string]bool{
	PaymentCash: true, PaymentDebitCard: true, PaymentCreditCard: true,
	PaymentPix: true, PaymentInsurance: true, PaymentTransfer: true,
}

var validCancelledBy = map[string]bool{
	CancelledByPatient: true, CancelledByProfessional: true, CancelledBySystem: true,
}

// blockingStatuses are the statuses that occupy the professional's calendar.
// Appointments in any other status never count toward overlap detection.
var blockingStatuses = []string{StatusScheduled, StatusConfirmed, StatusInProgress}

// Appointment maps to the appointment table.
type Appointment struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ProfessionalID  uuid.UUID  `db:"professional_id" json:"professional_id"`
	PatientUserID   *uuid.UUID `db:"patient_user_id" json:"patient_user_id,omitempty"`
	ScheduledStart  time.Time  `db:"scheduled_start" json:"scheduled_start"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	ScheduledEnd    *time.Time `db:"scheduled_end" json:"scheduled_end,omitempty"`
	Type            string     `db:"type" json:"type"`
	Status          string     `db:"status" json:"status"`
	PatientName     string     `db:"patient_name" json:"patient_name"`
	PatientPhone    string     `db:"patient_phone" json:"patient_phone"`
	PatientEmail    *string    `db:"patient_email" json:"patient_email,omitempty"`
	Reason          *string    `db:"reason" json:"reason,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	InternalNotes   *string    `db:"internal_notes" json:"internal_notes,omitempty"`
	Amount          *float64   `db:"amount" json:"amount,omitempty"`
	PaymentMethod   *string    `db:"payment_method" json:"payment_method,omitempty"`
	Paid            bool       `db:"paid" json:"paid"`
	CancelReason    *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledBy     *string    `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	OriginID        *uuid.UUID `db:"origin_id" json:"origin_id,omitempty"`
	Active          bool       `db:"active" json:"active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// WindowEnd returns the end of the booked window. ScheduledEnd wins when set;
// otherwise the end is derived from the start plus the estimated duration.
func (a *Appointment) WindowEnd() time.Time {
	if a.ScheduledEnd != nil {
		return *a.ScheduledEnd
	}
	return a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the appointment window intersects [start, end).
// Windows that merely touch at an endpoint do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.ScheduledStart.Before(end) && start.Before(a.WindowEnd())
}

// Blocking reports whether the appointment occupies the professional's
// calendar for conflict purposes.
func (a *Appointment) Blocking() bool {
	if !a.Active {
		return false
	}
	for _, st := range blockingStatuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the appointment has reached a final status. No
// transition leaves COMPLETED or CANCELLED.
func (a *Appointment) IsTerminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusCancelled
}

// CanCancel reports whether a cancel transition is currently allowed.
func (a *Appointment) CanCancel() bool {
	return !a.IsTerminal()
}

// CanReschedule reports whether a reschedule transition is currently allowed.
func (a *Appointment) CanReschedule() bool {
	return !a.IsTerminal()
}

// Confirm transitions SCHEDULED -> CONFIRMED.
func (a *Appointment) Confirm() error {
	if a.Status != StatusScheduled {
		return &InvalidTransitionError{Status: a.Status, Action: "confirm"}
	}
	a.Status = StatusConfirmed
	return nil
}

// Start transitions SCHEDULED or CONFIRMED -> IN_PROGRESS.
func (a *Appointment) Start() error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return &InvalidTransitionError{Status: a.Status, Action: "start"}
	}
	a.Status = StatusInProgress
	return nil
}

// Finish transitions IN_PROGRESS -> COMPLETED and stamps the actual end time.
func (a *Appointment) Finish(now time.Time) error {
	if a.Status != StatusInProgress {
		return &InvalidTransitionError{Status: a.Status, Action: "finish"}
	}
	a.Status = StatusCompleted
	a.ScheduledEnd = &now
	return nil
}

// NoShow transitions SCHEDULED or CONFIRMED -> NO_SHOW. Only appointments
// whose visit never started can be marked as missed.
func (a *Appointment) NoShow() error {
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return &InvalidTransitionError{Status: a.Status, Action: "no-show"}
	}
	a.Status = StatusNoShow
	return nil
}

// Cancel transitions to CANCELLED and records who cancelled, why and when.
// Completed and already-cancelled appointments cannot be cancelled.
func (a *Appointment) Cancel(reason, by string, now time.Time) error {
	if !a.CanCancel() {
		return &InvalidTransitionError{Status: a.Status, Action: "cancel"}
	}
	a.Status = StatusCancelled
	a.CancelReason = &reason
	a.CancelledBy = &by
	a.CancelledAt = &now
	return nil
}

// MarkRescheduled transitions to RESCHEDULED unless the appointment is
// completed or cancelled. The replacement booking is created separately and
// points back via origin_id.
func (a *Appointment) MarkRescheduled() error {
	if !a.CanReschedule() {
		return &InvalidTransitionError{Status: a.Status, Action: "reschedule"}
	}
	a.Status = StatusRescheduled
	return nil
}

// CloneFor builds the replacement appointment created by a reschedule. The
// professional, duration, type, patient contact, reason and amount carry over;
// the clone starts life as a fresh SCHEDULED booking at newStart.
func (a *Appointment) CloneFor(newStart time.Time, rescheduleReason string) *Appointment {
	notes := "Rescheduled"
	if rescheduleReason != "" {
		notes = "Rescheduled. Reason: " + rescheduleReason
	}
	origin := a.ID
	end := newStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
	return &Appointment{
		ProfessionalID:  a.ProfessionalID,
		PatientUserID:   a.PatientUserID,
		ScheduledStart:  newStart,
		DurationMinutes: a.DurationMinutes,
		ScheduledEnd:    &end,
		Type:            a.Type,
		Status:          StatusScheduled,
		PatientName:     a.PatientName,
		PatientPhone:    a.PatientPhone,
		PatientEmail:    a.PatientEmail,
		Reason:          a.Reason,
		Notes:           &notes,
		Amount:          a.Amount,
		PaymentMethod:   a.PaymentMethod,
		OriginID:        &origin,
		Active:          true,
	}
}

// PatientView is the reduced payload returned to patients. Internal notes and
// cancellation bookkeeping never leave the clinic side.
type PatientView struct {
	ID              uuid.UUID  `json:"id"`
	ProfessionalID  uuid.UUID  `json:"professional_id"`
	ScheduledStart  time.Time  `json:"scheduled_start"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	Reason          *string    `json:"reason,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	Amount          *float64   `json:"amount,omitempty"`
	Paid            bool       `json:"paid"`
}

// ToPatientView projects the appointment into its patient-facing shape.
func (a *Appointment) ToPatientView() *PatientView {
	return &PatientView{
		ID:              a.ID,
		ProfessionalID:  a.ProfessionalID,
		ScheduledStart:  a.ScheduledStart,
		DurationMinutes: a.DurationMinutes,
		ScheduledEnd:    a.ScheduledEnd,
		Type:            a.Type,
		Status:          a.Status,
		Reason:          a.Reason,
		Notes:           a.Notes,
		Amount:          a.Amount,
		Paid:            a.Paid,
	}
}
