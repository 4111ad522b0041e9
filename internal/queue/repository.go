package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrTokenNotFound = errors.New("visit token not found")
)

// BookParams is everything needed to create a token. The number is not
// a parameter: the repository allocates it atomically with the insert.
type BookParams struct {
	ClinicID  uuid.UUID
	PatientID uuid.UUID
	Day       string
	Origin    Origin
	DoctorID  *uuid.UUID
	Reason    *string
}

// Repository contains all DB interactions needed by the queue service.
type Repository interface {
	// CreateToken allocates the next (clinic, day) number and inserts the
	// token in one atomic unit. A failed insert spends no number. Returns
	// ErrDuplicateActiveToken if the patient already holds an active slot,
	// ErrConflict if the transaction lost a race and should be retried.
	CreateToken(ctx context.Context, p BookParams) (*VisitToken, error)

	GetToken(ctx context.Context, id uuid.UUID) (*VisitToken, error)

	// UpdateTokenStatus is a compare-and-swap on the status column.
	// Returns ErrTokenNotFound when no row matched id+from.
	UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status) (*VisitToken, error)

	// ListDay returns all tokens for a clinic day ordered by number.
	ListDay(ctx context.Context, clinicID uuid.UUID, day string) ([]VisitToken, error)

	ActiveForPatient(ctx context.Context, patientID uuid.UUID, day string) (*VisitToken, error)
	CountActiveAhead(ctx context.Context, clinicID uuid.UUID, day string, number int) (int, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]VisitToken, error)
}
