package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const activeTokenConstraint = "visit_tokens_one_active_per_patient"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const tokenColumns = `id, clinic_id, day, number, patient_id, origin, status, doctor_id, reason, created_at, updated_at`

func scanToken(row pgx.Row) (*VisitToken, error) {
	var t VisitToken
	var doctorID *uuid.UUID
	var reason *string

	err := row.Scan(
		&t.ID,
		&t.ClinicID,
		&t.Day,
		&t.Number,
		&t.PatientID,
		&t.Origin,
		&t.Status,
		&doctorID,
		&reason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	t.DoctorID = doctorID
	t.Reason = reason
	return &t, nil
}

// CreateToken runs the allocate-and-insert as one transaction. The
// upsert on token_sequences row-locks the (clinic, day) counter until
// commit, so concurrent bookings serialize there; if the insert fails
// the increment rolls back with it and no number is spent.
func (r *PgRepository) CreateToken(ctx context.Context, p BookParams) (*VisitToken, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var number int
	row := tx.QueryRow(ctx, `
		INSERT INTO token_sequences (clinic_id, day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (clinic_id, day)
		DO UPDATE SET next_number = token_sequences.next_number + 1
		RETURNING next_number
	`, p.ClinicID, p.Day)
	if err = row.Scan(&number); err != nil {
		return nil, translateBookingError(err)
	}

	id := uuid.New()
	row = tx.QueryRow(ctx, `
		INSERT INTO visit_tokens (id, clinic_id, day, number, patient_id, origin, status, doctor_id, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING `+tokenColumns+`
	`, id, p.ClinicID, p.Day, number, p.PatientID, p.Origin, StatusWaiting, p.DoctorID, p.Reason)

	var token *VisitToken
	token, err = scanToken(row)
	if err != nil {
		return nil, translateBookingError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, translateBookingError(err)
	}

	return token, nil
}

func translateBookingError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == activeTokenConstraint {
				return ErrDuplicateActiveToken
			}
			return ErrConflict
		case "40001", "40P01": // serialization failure, deadlock
			return ErrConflict
		}
	}
	return err
}

func (r *PgRepository) GetToken(ctx context.Context, id uuid.UUID) (*VisitToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM visit_tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *PgRepository) UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status) (*VisitToken, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE visit_tokens
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+tokenColumns+`
	`, id, to, from)
	return scanToken(row)
}

func (r *PgRepository) ListDay(ctx context.Context, clinicID uuid.UUID, day string) ([]VisitToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM visit_tokens
		WHERE clinic_id = $1 AND day = $2
		ORDER BY number ASC
	`, clinicID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []VisitToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ActiveForPatient(ctx context.Context, patientID uuid.UUID, day string) (*VisitToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM visit_tokens
		WHERE patient_id = $1
		  AND day = $2
		  AND status IN ('waiting', 'in_consultation')
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID, day)
	return scanToken(row)
}

func (r *PgRepository) CountActiveAhead(ctx context.Context, clinicID uuid.UUID, day string, number int) (int, error) {
	var count int
	row := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM visit_tokens
		WHERE clinic_id = $1
		  AND day = $2
		  AND number < $3
		  AND status IN ('waiting', 'in_consultation')
	`, clinicID, day, number)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PgRepository) ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]VisitToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM visit_tokens
		WHERE patient_id = $1
		ORDER BY day DESC, number DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []VisitToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
