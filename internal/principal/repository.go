package principal

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
)

var (
	ErrPrincipalNotFound = errors.New("principal not found")
)

// Repository contains all DB interactions needed by the principal service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Principal, error)
	GetByMobile(ctx context.Context, mobile string) (*Principal, error)

	// EnsurePatient finds the principal for a mobile number or creates a
	// patient-role one. Concurrent callers for the same mobile converge
	// on one row.
	EnsurePatient(ctx context.Context, mobile, name string) (*Principal, error)

	SetLoginChallenge(ctx context.Context, id uuid.UUID, ch otp.Challenge) error
	ClearLoginChallenge(ctx context.Context, id uuid.UUID) error
}
