package consultation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/consulta/consulta/internal/domain/professional"
	"github.com/consulta/consulta/internal/platform/lock"
)

// Service orchestrates the appointment lifecycle: validate, authorize, then
// book under the per-professional lock.
type Service struct {
	repo          Repository
	professionals professional.Directory
	locker        lock.Locker
}

func NewService(repo Repository, dir professional.Directory, locker lock.Locker) *Service {
	return &Service{repo: repo, professionals: dir, locker: locker}
}

// CreateInput is the accepted payload for booking an appointment.
type CreateInput struct {
	ProfessionalID  uuid.UUID  `json:"professional_id"`
	ScheduledStart  time.Time  `json:"scheduled_start"`
	DurationMinutes int        `json:"duration_minutes"`
	Type            string     `json:"type"`
	PatientName     string     `json:"patient_name"`
	PatientPhone    string     `json:"patient_phone"`
	PatientEmail    *string    `json:"patient_email"`
	Reason          *string    `json:"reason"`
	Notes           *string    `json:"notes"`
	Amount          *float64   `json:"amount"`
}

// UpdateInput is the limited field set accepted on PATCH. Nil fields are left
// untouched.
type UpdateInput struct {
	ScheduledStart  *time.Time `json:"scheduled_start"`
	DurationMinutes *int       `json:"duration_minutes"`
	PatientPhone    *string    `json:"patient_phone"`
	PatientEmail    *string    `json:"patient_email"`
	Reason          *string    `json:"reason"`
	Notes           *string    `json:"notes"`
	InternalNotes   *string    `json:"internal_notes"`
	Amount          *float64   `json:"amount"`
	PaymentMethod   *string    `json:"payment_method"`
	Paid            *bool      `json:"paid"`
}

// AgendaGroup is one professional's slice of the day agenda, time-ordered.
type AgendaGroup struct {
	ProfessionalID uuid.UUID      `json:"professional_id"`
	Appointments   []*Appointment `json:"appointments"`
}

// Book validates the request, resolves the professional, and creates the
// appointment atomically with the conflict check. When a patient books, their
// account is linked to the appointment for later authorization.
func (s *Service) Book(ctx context.Context, p Principal, in *CreateInput) (*Appointment, error) {
	fields := map[string]string{}

	if in.ProfessionalID == uuid.Nil {
		fields["professional_id"] = "required"
	}
	if in.ScheduledStart.IsZero() {
		fields["scheduled_start"] = "required"
	} else if !in.ScheduledStart.After(time.Now()) {
		fields["scheduled_start"] = "must be in the future"
	}
	duration := in.DurationMinutes
	if duration == 0 {
		duration = DefaultDurationMinutes
	}
	if duration < 0 || duration > MaxDurationMinutes {
		fields["duration_minutes"] = "must be between 1 and 480"
	}
	consultType := in.Type
	if consultType == "" {
		consultType = TypeFirstVisit
	}
	if !validTypes[consultType] {
		fields["type"] = "invalid consultation type"
	}
	if in.PatientName == "" {
		fields["patient_name"] = "required"
	}
	if in.PatientPhone == "" {
		fields["patient_phone"] = "required"
	}
	if in.Amount != nil && *in.Amount < 0 {
		fields["amount"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	// Professionals book their own calendar only. Admins and patients may
	// book any professional.
	if p.Role == RoleProfessional && (p.ProfessionalID == nil || *p.ProfessionalID != in.ProfessionalID) {
		return nil, ErrForbidden
	}

	prof, err := s.professionals.GetByID(ctx, in.ProfessionalID)
	if err != nil {
		if err == professional.ErrNotFound {
			return nil, newValidationError("professional_id", "unknown professional")
		}
		return nil, err
	}
	if !prof.Active {
		return nil, newValidationError("professional_id", "professional is not accepting appointments")
	}

	amount := in.Amount
	if amount == nil {
		amount = prof.Price
	}

	end := in.ScheduledStart.Add(time.Duration(duration) * time.Minute)
	a := &Appointment{
		ProfessionalID:  in.ProfessionalID,
		ScheduledStart:  in.ScheduledStart,
		DurationMinutes: duration,
		ScheduledEnd:    &end,
		Type:            consultType,
		Status:          StatusScheduled,
		PatientName:     in.PatientName,
		PatientPhone:    in.PatientPhone,
		PatientEmail:    in.PatientEmail,
		Reason:          in.Reason,
		Notes:           in.Notes,
		Amount:          amount,
		Active:          true,
	}
	if p.Role == RolePatient {
		a.PatientUserID = p.PatientID
	}

	err = s.locker.WithProfessionalLock(ctx, a.ProfessionalID, func(ctx context.Context) error {
		return s.repo.CreateIfFree(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns the appointment if the principal may see it. Unauthorized reads
// are indistinguishable from missing rows.
func (s *Service) Get(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(p, a, ActionView) {
		return nil, ErrNotFound
	}
	return a, nil
}

// GetPatientView returns the reduced patient-facing payload.
func (s *Service) GetPatientView(ctx context.Context, p Principal, id uuid.UUID) (*PatientView, error) {
	a, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return a.ToPatientView(), nil
}

// Update applies the limited PATCH field set. Finished and cancelled
// appointments are immutable; moving the window re-runs conflict detection.
func (s *Service) Update(ctx context.Context, p Principal, id uuid.UUID, in *UpdateInput) (*Appointment, error) {
	a, err := s.authorize(ctx, p, id, ActionUpdate)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, &InvalidTransitionError{Status: a.Status, Action: "update"}
	}

	fields := map[string]string{}
	moved := false

	if in.ScheduledStart != nil {
		if !in.ScheduledStart.After(time.Now()) {
			fields["scheduled_start"] = "must be in the future"
		} else {
			a.ScheduledStart = *in.ScheduledStart
			moved = true
		}
	}
	if in.DurationMinutes != nil {
		if *in.DurationMinutes <= 0 || *in.DurationMinutes > MaxDurationMinutes {
			fields["duration_minutes"] = "must be between 1 and 480"
		} else {
			a.DurationMinutes = *in.DurationMinutes
			moved = true
		}
	}
	if in.PatientPhone != nil {
		if *in.PatientPhone == "" {
			fields["patient_phone"] = "must not be empty"
		} else {
			a.PatientPhone = *in.PatientPhone
		}
	}
	if in.PatientEmail != nil {
		a.PatientEmail = in.PatientEmail
	}
	if in.Reason != nil {
		a.Reason = in.Reason
	}
	if in.Notes != nil {
		a.Notes = in.Notes
	}
	if in.InternalNotes != nil {
		a.InternalNotes = in.InternalNotes
	}
	if in.Amount != nil {
		if *in.Amount < 0 {
			fields["amount"] = "must not be negative"
		} else {
			a.Amount = in.Amount
		}
	}
	if in.PaymentMethod != nil {
		if !validPaymentMethods[*in.PaymentMethod] {
			fields["payment_method"] = "invalid payment method"
		} else {
			a.PaymentMethod = in.PaymentMethod
		}
	}
	if in.Paid != nil {
		a.Paid = *in.Paid
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if moved {
		end := a.ScheduledStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
		a.ScheduledEnd = &end
		err = s.locker.WithProfessionalLock(ctx, a.ProfessionalID, func(ctx context.Context) error {
			return s.repo.UpdateIfFree(ctx, a)
		})
	} else {
		err = s.repo.Update(ctx, a)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Confirm transitions the appointment to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, p, id, ActionConfirm, func(a *Appointment) error {
		return a.Confirm()
	})
}

// Start transitions the appointment to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, p, id, ActionStart, func(a *Appointment) error {
		return a.Start()
	})
}

// Finish transitions the appointment to COMPLETED.
func (s *Service) Finish(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, p, id, ActionFinish, func(a *Appointment) error {
		return a.Finish(time.Now())
	})
}

// Cancel transitions the appointment to CANCELLED. A reason is mandatory;
// when the caller does not say who cancelled, their role decides.
func (s *Service) Cancel(ctx context.Context, p Principal, id uuid.UUID, reason, by string) (*Appointment, error) {
	if reason == "" {
		return nil, newValidationError("reason", "required for cancellation")
	}
	if by == "" {
		switch p.Role {
		case RolePatient:
			by = CancelledByPatient
		case RoleProfessional:
			by = CancelledByProfessional
		default:
			by = CancelledBySystem
		}
	}
	if !validCancelledBy[by] {
		return nil, newValidationError("cancelled_by", "must be PATIENT, PROFESSIONAL or SYSTEM")
	}
	return s.transition(ctx, p, id, ActionCancel, func(a *Appointment) error {
		return a.Cancel(reason, by, time.Now())
	})
}

// NoShow marks the appointment as missed by the patient.
func (s *Service) NoShow(ctx context.Context, p Principal, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, p, id, ActionNoShow, func(a *Appointment) error {
		return a.NoShow()
	})
}

// Reschedule marks the appointment RESCHEDULED and books its replacement at
// newStart in one atomic step. Returns the replacement.
func (s *Service) Reschedule(ctx context.Context, p Principal, id uuid.UUID, newStart time.Time, reason string) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, newValidationError("new_scheduled_start", "required for rescheduling")
	}
	if !newStart.After(time.Now()) {
		return nil, newValidationError("new_scheduled_start", "must be in the future")
	}

	orig, err := s.authorize(ctx, p, id, ActionReschedule)
	if err != nil {
		return nil, err
	}
	if err := orig.MarkRescheduled(); err != nil {
		return nil, err
	}
	clone := orig.CloneFor(newStart, reason)

	err = s.locker.WithProfessionalLock(ctx, clone.ProfessionalID, func(ctx context.Context) error {
		return s.repo.Reschedule(ctx, orig, clone)
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// Delete soft-deletes the appointment. Consultations under way or already
// held stay on the record.
func (s *Service) Delete(ctx context.Context, p Principal, id uuid.UUID) error {
	a, err := s.authorize(ctx, p, id, ActionDelete)
	if err != nil {
		return err
	}
	if a.Status == StatusInProgress || a.Status == StatusCompleted {
		return &InvalidTransitionError{Status: a.Status, Action: "delete"}
	}
	a.Active = false
	return s.repo.Update(ctx, a)
}

// List returns the appointments visible to the principal, filtered and
// paginated.
func (s *Service) List(ctx context.Context, p Principal, q ListQuery, limit, offset int) ([]*Appointment, int, error) {
	for _, st := range q.Statuses {
		if !validStatuses[st] {
			return nil, 0, newValidationError("status", "invalid status "+st)
		}
	}
	if q.Period != "" && q.Period != PeriodFuture && q.Period != PeriodPast && q.Period != PeriodToday {
		return nil, 0, newValidationError("period", "must be future, past or today")
	}
	if !Scope(p, &q) {
		return []*Appointment{}, 0, nil
	}
	return s.repo.List(ctx, q, limit, offset)
}

// Agenda returns the day's blocking appointments grouped per professional.
// Professionals see their own column only.
func (s *Service) Agenda(ctx context.Context, p Principal, day time.Time) ([]*AgendaGroup, error) {
	if p.Role != RoleAdmin && p.Role != RoleProfessional {
		return nil, ErrForbidden
	}
	items, err := s.repo.Agenda(ctx, day)
	if err != nil {
		return nil, err
	}

	groups := []*AgendaGroup{}
	var cur *AgendaGroup
	for _, a := range items {
		if p.Role == RoleProfessional && (p.ProfessionalID == nil || *p.ProfessionalID != a.ProfessionalID) {
			continue
		}
		if cur == nil || cur.ProfessionalID != a.ProfessionalID {
			cur = &AgendaGroup{ProfessionalID: a.ProfessionalID}
			groups = append(groups, cur)
		}
		cur.Appointments = append(cur.Appointments, a)
	}
	return groups, nil
}

// Stats returns the aggregate view. Admin only.
func (s *Service) Stats(ctx context.Context, p Principal) (*Stats, error) {
	if p.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	return s.repo.Stats(ctx)
}

// authorize loads the appointment and checks the mutation against the policy
// table. Callers the policy hides the row from get ErrNotFound; callers who
// may see it but not act on it get ErrForbidden.
func (s *Service) authorize(ctx context.Context, p Principal, id uuid.UUID, action Action) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(p, a, ActionView) {
		return nil, ErrNotFound
	}
	if !CanPerform(p, a, action) {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) transition(ctx context.Context, p Principal, id uuid.UUID, action Action, apply func(*Appointment) error) (*Appointment, error) {
	a, err := s.authorize(ctx, p, id, action)
	if err != nil {
		return nil, err
	}
	if err := apply(a); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
