package principal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medlink/clinic-core/internal/otp"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const principalColumns = `id, mobile, name, role, clinic_id, login_otp_code, login_otp_expires_at, created_at, updated_at`

func scanPrincipal(row pgx.Row) (*Principal, error) {
	var p Principal
	var clinicID *uuid.UUID
	var code *string
	var expiresAt *time.Time

	err := row.Scan(
		&p.ID,
		&p.Mobile,
		&p.Name,
		&p.Role,
		&clinicID,
		&code,
		&expiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}

	p.ClinicID = clinicID
	if code != nil && expiresAt != nil {
		p.LoginChallenge = &otp.Challenge{Code: *code, ExpiresAt: *expiresAt}
	}
	return &p, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Principal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE id = $1
	`, id)
	return scanPrincipal(row)
}

func (r *PgRepository) GetByMobile(ctx context.Context, mobile string) (*Principal, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+principalColumns+`
		FROM principals
		WHERE mobile = $1
	`, mobile)
	return scanPrincipal(row)
}

// EnsurePatient races safely on the mobile unique constraint: the insert
// is a no-op when the row exists and the follow-up read returns whoever
// won.
func (r *PgRepository) EnsurePatient(ctx context.Context, mobile, name string) (*Principal, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO principals (id, mobile, name, role, created_at, updated_at)
		VALUES ($1, $2, $3, 'patient', now(), now())
		ON CONFLICT (mobile) DO NOTHING
	`, uuid.New(), mobile, name)
	if err != nil {
		return nil, fmt.Errorf("ensure patient: %w", err)
	}
	return r.GetByMobile(ctx, mobile)
}

func (r *PgRepository) SetLoginChallenge(ctx context.Context, id uuid.UUID, ch otp.Challenge) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE principals
		SET login_otp_code = $2,
		    login_otp_expires_at = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, ch.Code, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("set login challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

func (r *PgRepository) ClearLoginChallenge(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE principals
		SET login_otp_code = NULL,
		    login_otp_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear login challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}
