package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
	redisclient "github.com/medlink/clinic-core/internal/redis"
)

// Respond actions a patient may take on a grant.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
	ActionRevoke  = "revoke"
)

var (
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired otp")
	ErrNotPending          = errors.New("consent grant is not awaiting a response")
	ErrNotApproved         = errors.New("consent grant is not approved")
	ErrInvalidAction       = errors.New("unknown consent action")

	// ErrRequestBusy means another request for the same doctor-patient
	// pair holds the lock right now.
	ErrRequestBusy = errors.New("consent request for this pair is in flight, please retry")
)

// Directory resolves the delivery address for a patient's OTP. Backed by
// the principal store; swapped for a fake in tests.
type Directory interface {
	PatientMobile(ctx context.Context, patientID uuid.UUID) (string, error)
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	sender    otp.Sender
	directory Directory
	otpTTL    time.Duration
	accessTTL time.Duration
	now       func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, sender otp.Sender, directory Directory, otpTTL, accessTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		sender:    sender,
		directory: directory,
		otpTTL:    otpTTL,
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// RequestAccess is the doctor-side entry point. At most one open grant
// may exist per (doctor, patient) pair, so the check-then-create runs
// under a pair-scoped lock; the partial unique index backstops it.
// A live approved grant is returned as-is with no new OTP. A pending
// grant gets a fresh challenge; its access window is untouched because
// that window only starts at approval.
func (s *Service) RequestAccess(ctx context.Context, doctorID, patientID uuid.UUID, clinicID *uuid.UUID) (*Grant, bool, error) {
	var (
		grant     *Grant
		otpIssued bool
	)

	key := fmt.Sprintf("consent:%s:%s", doctorID, patientID)
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		now := s.now()

		existing, err := s.repo.FindOpenGrant(lockCtx, doctorID, patientID, now)
		if err != nil && !errors.Is(err, ErrGrantNotFound) {
			return fmt.Errorf("find open grant: %w", err)
		}

		if existing != nil {
			if existing.LiveApproved(now) {
				grant = existing
				return nil
			}

			ch, err := otp.Issue(now, s.otpTTL)
			if err != nil {
				return err
			}
			refreshed, err := s.repo.RefreshChallenge(lockCtx, existing.ID, ch)
			if err != nil {
				return fmt.Errorf("refresh challenge: %w", err)
			}
			grant = refreshed
			otpIssued = true
			s.deliver(lockCtx, patientID, ch.Code)
			return nil
		}

		ch, err := otp.Issue(now, s.otpTTL)
		if err != nil {
			return err
		}
		created, err := s.repo.CreatePendingGrant(lockCtx, doctorID, patientID, clinicID, ch)
		if err != nil {
			if errors.Is(err, ErrGrantExists) {
				// The lock lapsed and another request created the grant
				// first; the caller retries and will find it.
				return ErrRequestBusy
			}
			return fmt.Errorf("create pending grant: %w", err)
		}
		grant = created
		otpIssued = true
		s.deliver(lockCtx, patientID, ch.Code)
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, false, ErrRequestBusy
		}
		return nil, false, err
	}

	return grant, otpIssued, nil
}

// Verify is the doctor-side OTP entry: the patient reads the code aloud
// and the doctor types it in. Idempotent for grants already approved and
// live. A mismatch or lapsed code mutates nothing, so the doctor may
// retry until the challenge itself lapses.
func (s *Service) Verify(ctx context.Context, grantID uuid.UUID, code string) (*Grant, error) {
	now := s.now()

	grant, err := s.repo.GetGrantByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	if grant.Status == StatusApproved {
		if grant.LiveApproved(now) {
			return grant, nil
		}
		return nil, ErrInvalidOrExpiredOTP
	}
	if grant.Status != StatusPending {
		return nil, ErrNotPending
	}

	return s.redeem(ctx, grant, code, now)
}

// Respond is the patient-side entry point: deny needs no code, approve
// needs the same valid code as Verify, revoke withdraws an approved
// grant.
func (s *Service) Respond(ctx context.Context, grantID uuid.UUID, action, code string) (*Grant, error) {
	now := s.now()

	grant, err := s.repo.GetGrantByID(ctx, grantID)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionDeny:
		if grant.Status != StatusPending {
			return nil, ErrNotPending
		}
		denied, err := s.repo.Deny(ctx, grant.ID, now)
		if err != nil {
			if errors.Is(err, ErrGrantNotFound) {
				return nil, ErrNotPending
			}
			return nil, fmt.Errorf("deny grant: %w", err)
		}
		return denied, nil

	case ActionApprove:
		if grant.Status == StatusApproved && grant.LiveApproved(now) {
			return grant, nil
		}
		if grant.Status != StatusPending {
			return nil, ErrNotPending
		}
		return s.redeem(ctx, grant, code, now)

	case ActionRevoke:
		if !grant.LiveApproved(now) {
			return nil, ErrNotApproved
		}
		revoked, err := s.repo.Revoke(ctx, grant.ID, now)
		if err != nil {
			if errors.Is(err, ErrGrantNotFound) {
				return nil, ErrNotApproved
			}
			return nil, fmt.Errorf("revoke grant: %w", err)
		}
		return revoked, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// redeem validates the challenge and flips the grant to approved. The
// challenge is cleared by the same write, so a consumed code can never
// be replayed.
func (s *Service) redeem(ctx context.Context, grant *Grant, code string, now time.Time) (*Grant, error) {
	if grant.Challenge == nil || !grant.Challenge.Matches(code, now) {
		return nil, ErrInvalidOrExpiredOTP
	}

	approved, err := s.repo.Approve(ctx, grant.ID, now.Add(s.accessTTL), now)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			// Lost a race with the other entry path; report the outcome.
			current, getErr := s.repo.GetGrantByID(ctx, grant.ID)
			if getErr == nil && current.LiveApproved(now) {
				return current, nil
			}
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("approve grant: %w", err)
	}
	return approved, nil
}

// CheckAccess is the only gate the history reader may trust. Evaluated
// against storage on every call; approval state is never cached here.
func (s *Service) CheckAccess(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	return s.repo.HasLiveAccess(ctx, doctorID, patientID, s.now())
}

// GrantsForPatient lists a patient's grants with derived statuses.
func (s *Service) GrantsForPatient(ctx context.Context, patientID uuid.UUID) ([]Grant, error) {
	grants, err := s.repo.ListForPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	now := s.now()
	for i := range grants {
		grants[i].Status = grants[i].EffectiveStatus(now)
	}
	return grants, nil
}

// ExpireStale rewrites lapsed rows for reporting. Correctness never
// depends on this having run: every read re-derives expiry.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, s.now())
}

func (s *Service) deliver(ctx context.Context, patientID uuid.UUID, code string) {
	mobile, err := s.directory.PatientMobile(ctx, patientID)
	if err != nil {
		log.Printf("resolve mobile for patient %s: %v", patientID, err)
		return
	}
	if err := s.sender.Send(ctx, mobile, code); err != nil {
		// Delivery is out-of-band; a failed send is recovered by
		// re-requesting, which issues a fresh code.
		log.Printf("send consent otp to patient %s: %v", patientID, err)
	}
}
