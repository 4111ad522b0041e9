package principal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
)

var (
	ErrNoChallenge         = errors.New("no login otp was requested")
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired otp")
)

// Service owns the login half of the OTP engine. Consent codes live on
// grants, login codes live here on the principal row; a code issued for
// one purpose can never redeem the other.
type Service struct {
	repo   Repository
	sender otp.Sender
	otpTTL time.Duration
	now    func() time.Time
}

func NewService(repo Repository, sender otp.Sender, otpTTL time.Duration) *Service {
	return &Service{
		repo:   repo,
		sender: sender,
		otpTTL: otpTTL,
		now:    time.Now,
	}
}

// IssueLoginOTP creates the patient on first contact (walk-in and
// self-service flows share this) and stores a fresh challenge on the
// row, replacing any previous one.
func (s *Service) IssueLoginOTP(ctx context.Context, mobile, name string) (*Principal, error) {
	if mobile == "" {
		return nil, fmt.Errorf("mobile is required")
	}
	if name == "" {
		name = "Patient"
	}

	p, err := s.repo.EnsurePatient(ctx, mobile, name)
	if err != nil {
		return nil, err
	}

	ch, err := otp.Issue(s.now(), s.otpTTL)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetLoginChallenge(ctx, p.ID, ch); err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, p.Mobile, ch.Code); err != nil {
		// Recoverable by re-requesting; the stored code lapses on its own.
		log.Printf("send login otp to %s: %v", p.Mobile, err)
	}

	return p, nil
}

// VerifyLoginOTP redeems a login challenge and reports the caller's
// identity. The challenge is consumed on success; token/session issuance
// is up to the auth layer.
func (s *Service) VerifyLoginOTP(ctx context.Context, mobile, code string) (*Principal, error) {
	p, err := s.repo.GetByMobile(ctx, mobile)
	if err != nil {
		return nil, err
	}
	if p.LoginChallenge == nil {
		return nil, ErrNoChallenge
	}
	if !p.LoginChallenge.Matches(code, s.now()) {
		return nil, ErrInvalidOrExpiredOTP
	}

	if err := s.repo.ClearLoginChallenge(ctx, p.ID); err != nil {
		return nil, err
	}
	p.LoginChallenge = nil
	return p, nil
}

// EnsurePatient registers a walk-in patient by mobile, reusing any
// existing principal for the number.
func (s *Service) EnsurePatient(ctx context.Context, mobile, name string) (*Principal, error) {
	if mobile == "" {
		return nil, fmt.Errorf("mobile is required")
	}
	if name == "" {
		name = "Walk-in Patient"
	}
	return s.repo.EnsurePatient(ctx, mobile, name)
}

// PatientMobile implements the consent service's directory dependency.
func (s *Service) PatientMobile(ctx context.Context, patientID uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return "", err
	}
	return p.Mobile, nil
}
