package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consulta/consulta/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, professional_id, patient_user_id, scheduled_start, duration_minutes,
	scheduled_end, type, status, patient_name, patient_phone, patient_email,
	reason, notes, internal_notes, amount, payment_method, paid,
	cancel_reason, cancelled_by, cancelled_at, origin_id, active, created_at, updated_at`

func (r *repoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ProfessionalID, &a.PatientUserID, &a.ScheduledStart, &a.DurationMinutes,
		&a.ScheduledEnd, &a.Type, &a.Status, &a.PatientName, &a.PatientPhone, &a.PatientEmail,
		&a.Reason, &a.Notes, &a.InternalNotes, &a.Amount, &a.PaymentMethod, &a.Paid,
		&a.CancelReason, &a.CancelledBy, &a.CancelledAt, &a.OriginID, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

// inTx runs fn inside the transaction already carried by ctx, or begins a new
// one on the pool. Conflict-checked writes always go through here so the
// advisory lock, the overlap check and the write share one transaction.
func (r *repoPG) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(db.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockProfessional serializes bookings for one professional within the
// current transaction. The lock is released automatically on commit/rollback.
func (r *repoPG) lockProfessional(ctx context.Context, professionalID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, professionalID.String())
	if err != nil {
		return fmt.Errorf("acquire professional lock: %w", err)
	}
	return nil
}

func (r *repoPG) conflictExists(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	var exclude interface{}
	if excludeID != uuid.Nil {
		exclude = excludeID
	}
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE professional_id = $1
			  AND active = TRUE
			  AND status = ANY($2)
			  AND scheduled_start < $4
			  AND $3 < COALESCE(scheduled_end, scheduled_start + make_interval(mins => duration_minutes))
			  AND ($5::uuid IS NULL OR id <> $5)
		)`,
		professionalID, blockingStatuses, start, end, exclude).Scan(&exists)
	return exists, err
}

func (r *repoPG) insert(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, professional_id, patient_user_id, scheduled_start, duration_minutes,
			scheduled_end, type, status, patient_name, patient_phone, patient_email,
			reason, notes, internal_notes, amount, payment_method, paid,
			origin_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		a.ID, a.ProfessionalID, a.PatientUserID, a.ScheduledStart, a.DurationMinutes,
		a.ScheduledEnd, a.Type, a.Status, a.PatientName, a.PatientPhone, a.PatientEmail,
		a.Reason, a.Notes, a.InternalNotes, a.Amount, a.PaymentMethod, a.Paid,
		a.OriginID, a.Active)
	return mapWriteErr(err)
}

func (r *repoPG) CreateIfFree(ctx context.Context, a *Appointment) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		if err := r.lockProfessional(ctx, a.ProfessionalID); err != nil {
			return err
		}
		conflict, err := r.conflictExists(ctx, a.ProfessionalID, a.ScheduledStart, a.WindowEnd(), uuid.Nil)
		if err != nil {
			return err
		}
		if conflict {
			return ErrSlotConflict
		}
		return r.insert(ctx, a)
	})
}

func (r *repoPG) UpdateIfFree(ctx context.Context, a *Appointment) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		if err := r.lockProfessional(ctx, a.ProfessionalID); err != nil {
			return err
		}
		conflict, err := r.conflictExists(ctx, a.ProfessionalID, a.ScheduledStart, a.WindowEnd(), a.ID)
		if err != nil {
			return err
		}
		if conflict {
			return ErrSlotConflict
		}
		return r.Update(ctx, a)
	})
}

func (r *repoPG) Reschedule(ctx context.Context, orig, clone *Appointment) error {
	return r.inTx(ctx, func(ctx context.Context) error {
		if err := r.lockProfessional(ctx, clone.ProfessionalID); err != nil {
			return err
		}
		conflict, err := r.conflictExists(ctx, clone.ProfessionalID, clone.ScheduledStart, clone.WindowEnd(), orig.ID)
		if err != nil {
			return err
		}
		if conflict {
			return ErrSlotConflict
		}
		if err := r.Update(ctx, orig); err != nil {
			return err
		}
		return r.insert(ctx, clone)
	})
}

func (r *repoPG) HasConflict(ctx context.Context, professionalID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	return r.conflictExists(ctx, professionalID, start, end, excludeID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1 AND active = TRUE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET scheduled_start=$2, duration_minutes=$3, scheduled_end=$4,
			type=$5, status=$6, patient_name=$7, patient_phone=$8, patient_email=$9,
			reason=$10, notes=$11, internal_notes=$12, amount=$13, payment_method=$14, paid=$15,
			cancel_reason=$16, cancelled_by=$17, cancelled_at=$18, active=$19, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.ScheduledStart, a.DurationMinutes, a.ScheduledEnd,
		a.Type, a.Status, a.PatientName, a.PatientPhone, a.PatientEmail,
		a.Reason, a.Notes, a.InternalNotes, a.Amount, a.PaymentMethod, a.Paid,
		a.CancelReason, a.CancelledBy, a.CancelledAt, a.Active)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, q ListQuery, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE active = TRUE`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE active = TRUE`
	var args []interface{}
	idx := 1

	addFilter := func(clause string, value interface{}) {
		query += fmt.Sprintf(clause, idx)
		countQuery += fmt.Sprintf(clause, idx)
		args = append(args, value)
		idx++
	}

	if q.ProfessionalID != nil {
		addFilter(` AND professional_id = $%d`, *q.ProfessionalID)
	}
	if q.PatientUserID != nil {
		addFilter(` AND patient_user_id = $%d`, *q.PatientUserID)
	}
	if len(q.Statuses) > 0 {
		addFilter(` AND status = ANY($%d)`, q.Statuses)
	}
	if q.From != nil {
		addFilter(` AND scheduled_start >= $%d`, *q.From)
	}
	if q.To != nil {
		addFilter(` AND scheduled_start <= $%d`, *q.To)
	}
	switch q.Period {
	case PeriodFuture:
		query += ` AND scheduled_start > NOW()`
		countQuery += ` AND scheduled_start > NOW()`
	case PeriodPast:
		query += ` AND scheduled_start < NOW()`
		countQuery += ` AND scheduled_start < NOW()`
	case PeriodToday:
		query += ` AND scheduled_start::date = CURRENT_DATE`
		countQuery += ` AND scheduled_start::date = CURRENT_DATE`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY scheduled_start DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Agenda(ctx context.Context, day time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE active = TRUE AND status = ANY($1) AND scheduled_start::date = $2::date
		ORDER BY professional_id, scheduled_start`,
		blockingStatuses, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: make(map[string]int), ByType: make(map[string]int)}

	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE active = TRUE`).Scan(&st.Total); err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM appointment WHERE active = TRUE GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByStatus[s] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx,
		`SELECT type, COUNT(*) FROM appointment WHERE active = TRUE GROUP BY type`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ty string
		var n int
		if err := rows.Scan(&ty, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.ByType[ty] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE active = TRUE AND scheduled_start::date = CURRENT_DATE`).Scan(&st.Today); err != nil {
		return nil, err
	}

	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM appointment
		WHERE active = TRUE AND paid = TRUE
		  AND date_trunc('month', scheduled_start) = date_trunc('month', NOW())`).Scan(&st.MonthRevenue); err != nil {
		return nil, err
	}

	return st, nil
}

// mapWriteErr converts an exclusion-constraint violation on the appointment
// window into ErrSlotConflict. The constraint is the last line of defense
// under the advisory lock.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return ErrSlotConflict
	}
	return err
}
