package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/day"
)

var (
	ErrDuplicateActiveToken = errors.New("patient already has an active token at this clinic today")
	ErrInvalidTransition    = errors.New("invalid token status transition")
	ErrForbidden            = errors.New("actor not permitted to perform this transition")
	ErrConflict             = errors.New("booking lost a concurrent race, please retry")
	ErrInvalidDay           = errors.New("malformed business day key")
)

const retryBackoff = 25 * time.Millisecond

type Service struct {
	repo    Repository
	retries int
	now     func() time.Time
}

func NewService(repo Repository, retries int) *Service {
	if retries < 1 {
		retries = 1
	}
	return &Service{
		repo:    repo,
		retries: retries,
		now:     time.Now,
	}
}

type BookRequest struct {
	ClinicID  uuid.UUID
	PatientID uuid.UUID
	Origin    Origin
	DoctorID  *uuid.UUID
	Reason    *string
}

// Book assigns the next token number for (clinic, today) and creates the
// token in state waiting. The allocate-and-insert is atomic in the
// repository; this layer only owns the bounded retry on lost races.
func (s *Service) Book(ctx context.Context, req BookRequest) (*VisitToken, error) {
	if req.Origin != OriginOnline && req.Origin != OriginOffline {
		return nil, fmt.Errorf("unknown booking origin %q", req.Origin)
	}

	params := BookParams{
		ClinicID:  req.ClinicID,
		PatientID: req.PatientID,
		Day:       day.Key(s.now()),
		Origin:    req.Origin,
		DoctorID:  req.DoctorID,
		Reason:    req.Reason,
	}

	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		token, err := s.repo.CreateToken(ctx, params)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}

	return nil, fmt.Errorf("booking retries exhausted: %w", lastErr)
}

// Transition drives the token state machine. Rule checks happen against
// the loaded token, then the actual write is a compare-and-swap so a
// concurrent transition cannot be overwritten silently.
func (s *Service) Transition(ctx context.Context, tokenID uuid.UUID, target Status, actor Actor) (*VisitToken, error) {
	token, err := s.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if !ValidTransition(token.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, token.Status, target)
	}
	if err := authorize(token, target, actor); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateTokenStatus(ctx, tokenID, token.Status, target)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			// Token exists but the status moved underneath us.
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update token status: %w", err)
	}

	return updated, nil
}

func authorize(token *VisitToken, target Status, actor Actor) error {
	if !RoleMayTransition(actor.Role, token.Status, target) {
		return fmt.Errorf("%w: role %s may not drive %s -> %s", ErrForbidden, actor.Role, token.Status, target)
	}

	switch actor.Role {
	case RoleDoctor, RoleAttender:
		if actor.ClinicID == nil || *actor.ClinicID != token.ClinicID {
			return fmt.Errorf("%w: token belongs to another clinic", ErrForbidden)
		}
	case RolePatient:
		if actor.ID != token.PatientID {
			return fmt.Errorf("%w: token belongs to another patient", ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}

	return nil
}

// Snapshot returns the clinic's queue for a day ordered by number, with
// a live position for every still-active entry. Positions are computed
// from this read, never cached: cancelling an earlier token moves
// everyone behind it up on the next call.
func (s *Service) Snapshot(ctx context.Context, clinicID uuid.UUID, dayKey string) ([]QueueEntry, error) {
	if dayKey == "" {
		dayKey = day.Key(s.now())
	}
	if !day.Valid(dayKey) {
		return nil, ErrInvalidDay
	}

	tokens, err := s.repo.ListDay(ctx, clinicID, dayKey)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	entries := make([]QueueEntry, 0, len(tokens))
	activeAhead := 0
	for _, t := range tokens {
		entry := QueueEntry{Token: t}
		if t.Active() {
			pos := activeAhead
			entry.Position = &pos
			activeAhead++
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ActiveVisit returns the patient's live token for a day, if any, with a
// freshly computed patients-ahead count.
func (s *Service) ActiveVisit(ctx context.Context, patientID uuid.UUID, dayKey string) (*ActiveVisit, error) {
	if dayKey == "" {
		dayKey = day.Key(s.now())
	}
	if !day.Valid(dayKey) {
		return nil, ErrInvalidDay
	}

	token, err := s.repo.ActiveForPatient(ctx, patientID, dayKey)
	if err != nil {
		return nil, err
	}

	ahead, err := s.repo.CountActiveAhead(ctx, token.ClinicID, token.Day, token.Number)
	if err != nil {
		return nil, fmt.Errorf("count patients ahead: %w", err)
	}

	return &ActiveVisit{Token: *token, PatientsAhead: ahead}, nil
}

// VisitHistory lists a patient's tokens, newest first.
func (s *Service) VisitHistory(ctx context.Context, patientID uuid.UUID, limit int) ([]VisitToken, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	tokens, err := s.repo.ListForPatient(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list visit history: %w", err)
	}
	return tokens, nil
}
