package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlink/clinic-core/internal/otp"
)

const pendingGrantConstraint = "consent_grants_one_pending_per_pair"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const grantColumns = `id, doctor_id, patient_id, clinic_id, status, otp_code, otp_expires_at, access_expires_at, responded_at, created_at, updated_at`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	var clinicID *uuid.UUID
	var otpCode *string
	var otpExpiresAt, accessExpiresAt, respondedAt *time.Time

	err := row.Scan(
		&g.ID,
		&g.DoctorID,
		&g.PatientID,
		&clinicID,
		&g.Status,
		&otpCode,
		&otpExpiresAt,
		&accessExpiresAt,
		&respondedAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}

	g.ClinicID = clinicID
	g.AccessExpiresAt = accessExpiresAt
	g.RespondedAt = respondedAt
	if otpCode != nil && otpExpiresAt != nil {
		g.Challenge = &otp.Challenge{Code: *otpCode, ExpiresAt: *otpExpiresAt}
	}
	return &g, nil
}

func (r *PgRepository) GetGrantByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE id = $1
	`, id)
	return scanGrant(row)
}

func (r *PgRepository) FindOpenGrant(ctx context.Context, doctorID, patientID uuid.UUID, now time.Time) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE doctor_id = $1
		  AND patient_id = $2
		  AND (status = 'pending' OR (status = 'approved' AND access_expires_at > $3))
		ORDER BY created_at DESC
		LIMIT 1
	`, doctorID, patientID, now)
	return scanGrant(row)
}

func (r *PgRepository) CreatePendingGrant(ctx context.Context, doctorID, patientID uuid.UUID, clinicID *uuid.UUID, ch otp.Challenge) (*Grant, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO consent_grants (id, doctor_id, patient_id, clinic_id, status, otp_code, otp_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, now(), now())
		RETURNING `+grantColumns+`
	`, id, doctorID, patientID, clinicID, ch.Code, ch.ExpiresAt)

	g, err := scanGrant(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == pendingGrantConstraint {
			return nil, ErrGrantExists
		}
		return nil, err
	}
	return g, nil
}

func (r *PgRepository) RefreshChallenge(ctx context.Context, id uuid.UUID, ch otp.Challenge) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consent_grants
		SET otp_code = $2,
		    otp_expires_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+grantColumns+`
	`, id, ch.Code, ch.ExpiresAt)
	return scanGrant(row)
}

func (r *PgRepository) Approve(ctx context.Context, id uuid.UUID, accessExpiresAt, respondedAt time.Time) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consent_grants
		SET status = 'approved',
		    otp_code = NULL,
		    otp_expires_at = NULL,
		    access_expires_at = $2,
		    responded_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+grantColumns+`
	`, id, accessExpiresAt, respondedAt)
	return scanGrant(row)
}

func (r *PgRepository) Deny(ctx context.Context, id uuid.UUID, respondedAt time.Time) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consent_grants
		SET status = 'denied',
		    otp_code = NULL,
		    otp_expires_at = NULL,
		    responded_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+grantColumns+`
	`, id, respondedAt)
	return scanGrant(row)
}

func (r *PgRepository) Revoke(ctx context.Context, id uuid.UUID, respondedAt time.Time) (*Grant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consent_grants
		SET status = 'denied',
		    access_expires_at = NULL,
		    responded_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'approved'
		RETURNING `+grantColumns+`
	`, id, respondedAt)
	return scanGrant(row)
}

func (r *PgRepository) HasLiveAccess(ctx context.Context, doctorID, patientID uuid.UUID, now time.Time) (bool, error) {
	var exists bool
	row := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM consent_grants
			WHERE doctor_id = $1
			  AND patient_id = $2
			  AND status = 'approved'
			  AND access_expires_at > $3
		)
	`, doctorID, patientID, now)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+grantColumns+`
		FROM consent_grants
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consent_grants
		SET status = 'expired',
		    otp_code = NULL,
		    otp_expires_at = NULL,
		    updated_at = now()
		WHERE (status = 'approved' AND access_expires_at <= $1)
		   OR (status = 'pending' AND otp_expires_at <= $1)
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
