package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
)

var (
	ErrGrantNotFound = errors.New("consent grant not found")

	// ErrGrantExists means the unique index rejected a second pending
	// grant for the pair. Callers re-read and reuse the existing one.
	ErrGrantExists = errors.New("pending consent grant already exists for this pair")
)

// Repository contains all DB interactions needed by the consent service.
// Status-changing writes are compare-and-swaps on the stored status and
// return ErrGrantNotFound when the row moved underneath the caller.
type Repository interface {
	GetGrantByID(ctx context.Context, id uuid.UUID) (*Grant, error)

	// FindOpenGrant returns the pair's pending grant, or its approved
	// grant whose access window is still open at now.
	FindOpenGrant(ctx context.Context, doctorID, patientID uuid.UUID, now time.Time) (*Grant, error)

	CreatePendingGrant(ctx context.Context, doctorID, patientID uuid.UUID, clinicID *uuid.UUID, ch otp.Challenge) (*Grant, error)

	// RefreshChallenge replaces the OTP challenge of a pending grant.
	RefreshChallenge(ctx context.Context, id uuid.UUID, ch otp.Challenge) (*Grant, error)

	// Approve flips pending -> approved, sets the access window and
	// clears the challenge.
	Approve(ctx context.Context, id uuid.UUID, accessExpiresAt, respondedAt time.Time) (*Grant, error)

	// Deny flips pending -> denied and clears the challenge.
	Deny(ctx context.Context, id uuid.UUID, respondedAt time.Time) (*Grant, error)

	// Revoke flips approved -> denied and clears the access window.
	Revoke(ctx context.Context, id uuid.UUID, respondedAt time.Time) (*Grant, error)

	// HasLiveAccess is the read-time authorization gate.
	HasLiveAccess(ctx context.Context, doctorID, patientID uuid.UUID, now time.Time) (bool, error)

	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Grant, error)

	// ExpireStale rewrites lapsed pending/approved rows to expired.
	// Reporting hygiene only; reads never rely on it.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
