package consultation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/consulta/consulta/internal/domain/professional"
	"github.com/consulta/consulta/internal/platform/lock"
)

// mockRepo is an in-memory Repository with the same conflict semantics as the
// SQL implementation.
type mockRepo struct {
	appointments map[uuid.UUID]*Appointment
}

func newMockRepo() *mockRepo {
	return &mockRepo{appointments: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) conflict(professionalID uuid.UUID, start, end time.Time, excludeID uuid.UUID) bool {
	for _, a := range m.appointments {
		if a.ProfessionalID != professionalID || a.ID == excludeID {
			continue
		}
		if a.Blocking() && a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func (m *mockRepo) CreateIfFree(ctx context.Context, a *Appointment) error {
	if m.conflict(a.ProfessionalID, a.ScheduledStart, a.WindowEnd(), uuid.Nil) {
		return ErrSlotConflict
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	copied := *a
	m.appointments[a.ID] = &copied
	return nil
}

func (m *mockRepo) UpdateIfFree(ctx context.Context, a *Appointment) error {
	if m.conflict(a.ProfessionalID, a.ScheduledStart, a.WindowEnd(), a.ID) {
		return ErrSlotConflict
	}
	return m.Update(ctx, a)
}

func (m *mockRepo) Reschedule(ctx context.Context, orig, clone *Appointment) error {
	if m.conflict(clone.ProfessionalID, clone.ScheduledStart, clone.WindowEnd(), orig.ID) {
		return ErrSlotConflict
	}
	if err := m.Update(ctx, orig); err != nil {
		return err
	}
	clone.ID = uuid.New()
	copied := *clone
	m.appointments[clone.ID] = &copied
	return nil
}

func (m *mockRepo) HasConflict(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return m.conflict(professionalID, start, end, excludeID), nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok || !a.Active {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockRepo) Update(ctx context.Context, a *Appointment) error {
	if _, ok := m.appointments[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	copied := *a
	m.appointments[a.ID] = &copied
	return nil
}

func (m *mockRepo) List(ctx context.Context, q ListQuery, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appointments {
		if !a.Active {
			continue
		}
		if q.ProfessionalID != nil && a.ProfessionalID != *q.ProfessionalID {
			continue
		}
		if q.PatientUserID != nil && (a.PatientUserID == nil || *a.PatientUserID != *q.PatientUserID) {
			continue
		}
		if len(q.Statuses) > 0 {
			found := false
			for _, st := range q.Statuses {
				if a.Status == st {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStart.After(out[j].ScheduledStart)
	})
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) Agenda(ctx context.Context, day time.Time) ([]*Appointment, error) {
	var out []*Appointment
	for _, a := range m.appointments {
		if !a.Blocking() {
			continue
		}
		y1, m1, d1 := a.ScheduledStart.Date()
		y2, m2, d2 := day.Date()
		if y1 != y2 || m1 != m2 || d1 != d2 {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProfessionalID != out[j].ProfessionalID {
			return out[i].ProfessionalID.String() < out[j].ProfessionalID.String()
		}
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out, nil
}

func (m *mockRepo) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: map[string]int{}, ByType: map[string]int{}}
	for _, a := range m.appointments {
		if !a.Active {
			continue
		}
		st.Total++
		st.ByStatus[a.Status]++
		st.ByType[a.Type]++
	}
	return st, nil
}

// mockDirectory is an in-memory professional lookup.
type mockDirectory struct {
	professionals map[uuid.UUID]*professional.Professional
}

func (m *mockDirectory) GetByID(ctx context.Context, id uuid.UUID) (*professional.Professional, error) {
	p, ok := m.professionals[id]
	if !ok {
		return nil, professional.ErrNotFound
	}
	return p, nil
}

func (m *mockDirectory) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*professional.Professional, int, error) {
	var out []*professional.Professional
	for _, p := range m.professionals {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

type fixture struct {
	svc    *Service
	repo   *mockRepo
	profID uuid.UUID
	price  float64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	profID := uuid.New()
	price := 200.0
	dir := &mockDirectory{professionals: map[uuid.UUID]*professional.Professional{
		profID: {ID: profID, Name: "Dr. Silva", Price: &price, Active: true},
	}}
	return &fixture{
		svc:    NewService(repo, dir, lock.NewLocalLocker()),
		repo:   repo,
		profID: profID,
		price:  price,
	}
}

func adminPrincipal() Principal {
	return Principal{UserID: "admin-1", Role: RoleAdmin}
}

func validCreateInput(profID uuid.UUID) *CreateInput {
	return &CreateInput{
		ProfessionalID: profID,
		ScheduledStart: time.Now().Add(24 * time.Hour),
		PatientName:    "Ana Souza",
		PatientPhone:   "+55 11 99999-0000",
	}
}

func TestBook_Defaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == uuid.Nil {
		t.Error("expected an id to be assigned")
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected SCHEDULED, got %s", a.Status)
	}
	if a.DurationMinutes != DefaultDurationMinutes {
		t.Errorf("expected default duration %d, got %d", DefaultDurationMinutes, a.DurationMinutes)
	}
	if a.Type != TypeFirstVisit {
		t.Errorf("expected default type FIRST_VISIT, got %s", a.Type)
	}
	if a.Amount == nil || *a.Amount != f.price {
		t.Errorf("expected amount to default to the professional's price, got %v", a.Amount)
	}
	wantEnd := a.ScheduledStart.Add(time.Duration(DefaultDurationMinutes) * time.Minute)
	if a.ScheduledEnd == nil || !a.ScheduledEnd.Equal(wantEnd) {
		t.Errorf("expected derived end %v, got %v", wantEnd, a.ScheduledEnd)
	}
	if !a.Active {
		t.Error("expected new appointment to be active")
	}
}

func TestBook_ValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := &CreateInput{
		ScheduledStart:  time.Now().Add(-time.Hour),
		DurationMinutes: 999,
		Type:            "HOUSE_CALL",
	}
	_, err := f.svc.Book(ctx, adminPrincipal(), in)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"professional_id", "scheduled_start", "duration_minutes", "type", "patient_name", "patient_phone"} {
		if _, ok := vErr.Fields[field]; !ok {
			t.Errorf("expected validation failure for %s, fields: %v", field, vErr.Fields)
		}
	}
}

func TestBook_UnknownProfessional(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), adminPrincipal(), validCreateInput(uuid.New()))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := vErr.Fields["professional_id"]; !ok {
		t.Errorf("expected professional_id failure, fields: %v", vErr.Fields)
	}
}

func TestBook_InactiveProfessional(t *testing.T) {
	f := newFixture(t)
	inactiveID := uuid.New()
	dir := &mockDirectory{professionals: map[uuid.UUID]*professional.Professional{
		inactiveID: {ID: inactiveID, Name: "Dr. Gone", Active: false},
	}}
	svc := NewService(f.repo, dir, lock.NewLocalLocker())

	_, err := svc.Book(context.Background(), adminPrincipal(), validCreateInput(inactiveID))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestBook_SlotConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	in1 := validCreateInput(f.profID)
	in1.ScheduledStart = start
	if _, err := f.svc.Book(ctx, adminPrincipal(), in1); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	// Overlapping window for the same professional.
	in2 := validCreateInput(f.profID)
	in2.ScheduledStart = start.Add(30 * time.Minute)
	if _, err := f.svc.Book(ctx, adminPrincipal(), in2); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// Back-to-back booking is fine.
	in3 := validCreateInput(f.profID)
	in3.ScheduledStart = start.Add(time.Duration(DefaultDurationMinutes) * time.Minute)
	if _, err := f.svc.Book(ctx, adminPrincipal(), in3); err != nil {
		t.Fatalf("back-to-back booking failed: %v", err)
	}
}

func TestBook_CancelledSlotIsFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	in := validCreateInput(f.profID)
	in.ScheduledStart = start
	a, err := f.svc.Book(ctx, adminPrincipal(), in)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, adminPrincipal(), a.ID, "patient asked", ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	in2 := validCreateInput(f.profID)
	in2.ScheduledStart = start
	if _, err := f.svc.Book(ctx, adminPrincipal(), in2); err != nil {
		t.Fatalf("expected cancelled slot to be reusable, got %v", err)
	}
}

func TestNoShow_FreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	in := validCreateInput(f.profID)
	in.ScheduledStart = start
	a, err := f.svc.Book(ctx, adminPrincipal(), in)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	marked, err := f.svc.NoShow(ctx, adminPrincipal(), a.ID)
	if err != nil {
		t.Fatalf("no-show failed: %v", err)
	}
	if marked.Status != StatusNoShow {
		t.Fatalf("expected NO_SHOW, got %s", marked.Status)
	}

	in2 := validCreateInput(f.profID)
	in2.ScheduledStart = start
	if _, err := f.svc.Book(ctx, adminPrincipal(), in2); err != nil {
		t.Fatalf("expected missed slot to be reusable, got %v", err)
	}
}

func TestBook_ProfessionalOwnCalendarOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherProf := uuid.New()
	p := Principal{UserID: "u-prof", Role: RoleProfessional, ProfessionalID: &otherProf}
	if _, err := f.svc.Book(ctx, p, validCreateInput(f.profID)); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden booking another professional's calendar, got %v", err)
	}

	own := Principal{UserID: "u-prof", Role: RoleProfessional, ProfessionalID: &f.profID}
	if _, err := f.svc.Book(ctx, own, validCreateInput(f.profID)); err != nil {
		t.Errorf("expected professional to book their own calendar, got %v", err)
	}
}

func TestBook_PatientLinksOwnAccount(t *testing.T) {
	f := newFixture(t)
	patientID := uuid.New()
	p := Principal{UserID: "u-patient", Role: RolePatient, PatientID: &patientID}

	a, err := f.svc.Book(context.Background(), p, validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PatientUserID == nil || *a.PatientUserID != patientID {
		t.Error("expected booking patient's account to be linked")
	}
}

func TestGet_UnauthorizedReadLooksLikeMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	otherProf := uuid.New()
	stranger := Principal{UserID: "u-x", Role: RoleProfessional, ProfessionalID: &otherProf}
	if _, err := f.svc.Get(ctx, stranger, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unauthorized read, got %v", err)
	}
}

func TestUpdate_TerminalStatusesAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, adminPrincipal(), a.ID, "done", ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	notes := "late update"
	_, err = f.svc.Update(ctx, adminPrincipal(), a.ID, &UpdateInput{Notes: &notes})
	var tErr *InvalidTransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestUpdate_MovedWindowChecksConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	in1 := validCreateInput(f.profID)
	in1.ScheduledStart = start
	if _, err := f.svc.Book(ctx, adminPrincipal(), in1); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	in2 := validCreateInput(f.profID)
	in2.ScheduledStart = start.Add(2 * time.Hour)
	a2, err := f.svc.Book(ctx, adminPrincipal(), in2)
	if err != nil {
		t.Fatalf("second booking failed: %v", err)
	}

	// Moving a2 onto the first window must conflict.
	moveTo := start.Add(30 * time.Minute)
	_, err = f.svc.Update(ctx, adminPrincipal(), a2.ID, &UpdateInput{ScheduledStart: &moveTo})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// Moving a2 to a free window succeeds.
	free := start.Add(4 * time.Hour)
	updated, err := f.svc.Update(ctx, adminPrincipal(), a2.ID, &UpdateInput{ScheduledStart: &free})
	if err != nil {
		t.Fatalf("expected move to free window to succeed, got %v", err)
	}
	if !updated.ScheduledStart.Equal(free) {
		t.Errorf("expected start %v, got %v", free, updated.ScheduledStart)
	}
	wantEnd := free.Add(time.Duration(updated.DurationMinutes) * time.Minute)
	if updated.ScheduledEnd == nil || !updated.ScheduledEnd.Equal(wantEnd) {
		t.Errorf("expected end recomputed to %v, got %v", wantEnd, updated.ScheduledEnd)
	}
}

func TestUpdate_InvalidPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	bad := "BARTER"
	_, err = f.svc.Update(ctx, adminPrincipal(), a.ID, &UpdateInput{PaymentMethod: &bad})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLifecycle_ConfirmStartFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	if a, err = f.svc.Confirm(ctx, adminPrincipal(), a.ID); err != nil || a.Status != StatusConfirmed {
		t.Fatalf("confirm: status=%s err=%v", a.Status, err)
	}
	if a, err = f.svc.Start(ctx, adminPrincipal(), a.ID); err != nil || a.Status != StatusInProgress {
		t.Fatalf("start: status=%s err=%v", a.Status, err)
	}
	if a, err = f.svc.Finish(ctx, adminPrincipal(), a.ID); err != nil || a.Status != StatusCompleted {
		t.Fatalf("finish: status=%s err=%v", a.Status, err)
	}
	if a.ScheduledEnd == nil {
		t.Error("expected finish to stamp the end time")
	}

	// A completed appointment cannot restart.
	if _, err := f.svc.Start(ctx, adminPrincipal(), a.ID); err == nil {
		t.Error("expected error starting a completed appointment")
	}
}

func TestCancel_RequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	_, err = f.svc.Cancel(ctx, adminPrincipal(), a.ID, "", "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCancel_InfersActorFromRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	patient := Principal{UserID: "u-p", Role: RolePatient, PatientID: &patientID}

	a, err := f.svc.Book(ctx, patient, validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, patient, a.ID, "cannot make it", "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != CancelledByPatient {
		t.Errorf("expected cancelled_by PATIENT, got %v", cancelled.CancelledBy)
	}
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	newStart := time.Now().Add(48 * time.Hour)
	clone, err := f.svc.Reschedule(ctx, adminPrincipal(), a.ID, newStart, "clinic closed")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}

	if clone.ID == a.ID {
		t.Error("expected the replacement to be a new appointment")
	}
	if clone.OriginID == nil || *clone.OriginID != a.ID {
		t.Error("expected replacement to reference the original")
	}
	if clone.Status != StatusScheduled {
		t.Errorf("expected replacement to be SCHEDULED, got %s", clone.Status)
	}
	wantEnd := newStart.Add(time.Duration(clone.DurationMinutes) * time.Minute)
	if clone.ScheduledEnd == nil || !clone.ScheduledEnd.Equal(wantEnd) {
		t.Errorf("expected replacement end %v, got %v", wantEnd, clone.ScheduledEnd)
	}

	orig, err := f.svc.Get(ctx, adminPrincipal(), a.ID)
	if err != nil {
		t.Fatalf("original lookup failed: %v", err)
	}
	if orig.Status != StatusRescheduled {
		t.Errorf("expected original to be RESCHEDULED, got %s", orig.Status)
	}

	// The original slot no longer blocks.
	in := validCreateInput(f.profID)
	in.ScheduledStart = a.ScheduledStart
	if _, err := f.svc.Book(ctx, adminPrincipal(), in); err != nil {
		t.Errorf("expected original slot to be free after reschedule, got %v", err)
	}
}

func TestReschedule_ConflictKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour)

	in1 := validCreateInput(f.profID)
	in1.ScheduledStart = start
	if _, err := f.svc.Book(ctx, adminPrincipal(), in1); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	in2 := validCreateInput(f.profID)
	in2.ScheduledStart = start.Add(2 * time.Hour)
	a2, err := f.svc.Book(ctx, adminPrincipal(), in2)
	if err != nil {
		t.Fatalf("second booking failed: %v", err)
	}

	// Rescheduling a2 onto the occupied window must fail and leave a2 untouched.
	_, err = f.svc.Reschedule(ctx, adminPrincipal(), a2.ID, start.Add(15*time.Minute), "")
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	kept, err := f.svc.Get(ctx, adminPrincipal(), a2.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if kept.Status != StatusScheduled {
		t.Errorf("expected original to stay SCHEDULED after failed reschedule, got %s", kept.Status)
	}
}

func TestReschedule_RequiresFutureStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	var vErr *ValidationError
	if _, err := f.svc.Reschedule(ctx, adminPrincipal(), a.ID, time.Time{}, ""); !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for zero start, got %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, adminPrincipal(), a.ID, time.Now().Add(-time.Hour), ""); !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for past start, got %v", err)
	}
}

func TestDelete_SoftDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if err := f.svc.Delete(ctx, adminPrincipal(), a.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := f.svc.Get(ctx, adminPrincipal(), a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected soft-deleted appointment to be hidden, got %v", err)
	}
}

func TestDelete_RejectsInProgressAndCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	if _, err := f.svc.Start(ctx, adminPrincipal(), a.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	err = f.svc.Delete(ctx, adminPrincipal(), a.ID)
	var tErr *InvalidTransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected InvalidTransitionError for in-progress delete, got %v", err)
	}

	if _, err := f.svc.Finish(ctx, adminPrincipal(), a.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if err := f.svc.Delete(ctx, adminPrincipal(), a.ID); !errors.As(err, &tErr) {
		t.Fatalf("expected InvalidTransitionError for completed delete, got %v", err)
	}
}

func TestMutation_ForbiddenForLinkedPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	patient := Principal{UserID: "u-p", Role: RolePatient, PatientID: &patientID}

	a, err := f.svc.Book(ctx, patient, validCreateInput(f.profID))
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	// The patient may see the appointment, so denial is 403 not 404.
	if _, err := f.svc.Confirm(ctx, patient, a.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for patient confirm, got %v", err)
	}
	if err := f.svc.Delete(ctx, patient, a.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for patient delete, got %v", err)
	}
}

func TestList_ScopesToPrincipal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patientID := uuid.New()
	patient := Principal{UserID: "u-p", Role: RolePatient, PatientID: &patientID}

	if _, err := f.svc.Book(ctx, patient, validCreateInput(f.profID)); err != nil {
		t.Fatalf("patient booking failed: %v", err)
	}
	in := validCreateInput(f.profID)
	in.ScheduledStart = time.Now().Add(72 * time.Hour)
	if _, err := f.svc.Book(ctx, adminPrincipal(), in); err != nil {
		t.Fatalf("admin booking failed: %v", err)
	}

	all, total, err := f.svc.List(ctx, adminPrincipal(), ListQuery{}, 20, 0)
	if err != nil {
		t.Fatalf("admin list failed: %v", err)
	}
	if total != 2 || len(all) != 2 {
		t.Errorf("expected admin to see 2 appointments, got %d", total)
	}

	own, total, err := f.svc.List(ctx, patient, ListQuery{}, 20, 0)
	if err != nil {
		t.Fatalf("patient list failed: %v", err)
	}
	if total != 1 || len(own) != 1 {
		t.Errorf("expected patient to see 1 appointment, got %d", total)
	}
}

func TestList_RejectsInvalidFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var vErr *ValidationError
	if _, _, err := f.svc.List(ctx, adminPrincipal(), ListQuery{Statuses: []string{"BOOKED"}}, 20, 0); !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for invalid status, got %v", err)
	}
	if _, _, err := f.svc.List(ctx, adminPrincipal(), ListQuery{Period: "yesterday"}, 20, 0); !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for invalid period, got %v", err)
	}
}

func TestAgenda_GroupsAndScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Now().Add(24 * time.Hour)

	secondProf := uuid.New()
	price := 100.0
	dir := &mockDirectory{professionals: map[uuid.UUID]*professional.Professional{
		f.profID:   {ID: f.profID, Name: "Dr. Silva", Price: &f.price, Active: true},
		secondProf: {ID: secondProf, Name: "Dr. Costa", Price: &price, Active: true},
	}}
	svc := NewService(f.repo, dir, lock.NewLocalLocker())

	in1 := validCreateInput(f.profID)
	in1.ScheduledStart = day
	if _, err := svc.Book(ctx, adminPrincipal(), in1); err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	in2 := validCreateInput(secondProf)
	in2.ScheduledStart = day.Add(time.Hour)
	if _, err := svc.Book(ctx, adminPrincipal(), in2); err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	groups, err := svc.Agenda(ctx, adminPrincipal(), day)
	if err != nil {
		t.Fatalf("agenda failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 professional groups, got %d", len(groups))
	}

	// A professional only sees their own column.
	profPrincipal := Principal{UserID: "u-prof", Role: RoleProfessional, ProfessionalID: &f.profID}
	own, err := svc.Agenda(ctx, profPrincipal, day)
	if err != nil {
		t.Fatalf("agenda failed: %v", err)
	}
	if len(own) != 1 || own[0].ProfessionalID != f.profID {
		t.Errorf("expected only own column, got %d groups", len(own))
	}

	// Patients get no agenda at all.
	patientID := uuid.New()
	patient := Principal{UserID: "u-p", Role: RolePatient, PatientID: &patientID}
	if _, err := svc.Agenda(ctx, patient, day); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for patient agenda, got %v", err)
	}
}

func TestStats_AdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, adminPrincipal(), validCreateInput(f.profID)); err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	st, err := f.svc.Stats(ctx, adminPrincipal())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.Total != 1 || st.ByStatus[StatusScheduled] != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}

	profID := uuid.New()
	prof := Principal{UserID: "u-prof", Role: RoleProfessional, ProfessionalID: &profID}
	if _, err := f.svc.Stats(ctx, prof); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-admin stats, got %v", err)
	}
}
