package principal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
)

type memPrincipalRepo struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*Principal
	byMobile map[string]uuid.UUID
}

func newMemPrincipalRepo() *memPrincipalRepo {
	return &memPrincipalRepo{
		byID:     make(map[uuid.UUID]*Principal),
		byMobile: make(map[string]uuid.UUID),
	}
}

func (m *memPrincipalRepo) GetByID(_ context.Context, id uuid.UUID) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipalRepo) GetByMobile(_ context.Context, mobile string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byMobile[mobile]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memPrincipalRepo) EnsurePatient(_ context.Context, mobile, name string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byMobile[mobile]; ok {
		cp := *m.byID[id]
		return &cp, nil
	}
	now := time.Now()
	p := &Principal{
		ID:        uuid.New(),
		Mobile:    mobile,
		Name:      name,
		Role:      RolePatient,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.byID[p.ID] = p
	m.byMobile[mobile] = p.ID
	cp := *p
	return &cp, nil
}

func (m *memPrincipalRepo) SetLoginChallenge(_ context.Context, id uuid.UUID, ch otp.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.LoginChallenge = &ch
	return nil
}

func (m *memPrincipalRepo) ClearLoginChallenge(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.LoginChallenge = nil
	return nil
}

type captureSender struct {
	mu    sync.Mutex
	codes []string
}

func (c *captureSender) Send(_ context.Context, _, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
	return nil
}

func (c *captureSender) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.codes) == 0 {
		return ""
	}
	return c.codes[len(c.codes)-1]
}

func TestLoginOTPRoundTrip(t *testing.T) {
	repo := newMemPrincipalRepo()
	sender := &captureSender{}
	svc := NewService(repo, sender, 10*time.Minute)

	p, err := svc.IssueLoginOTP(context.Background(), "9876543210", "Asha")
	if err != nil {
		t.Fatalf("IssueLoginOTP: %v", err)
	}
	if p.Role != RolePatient {
		t.Fatalf("role = %s, want patient", p.Role)
	}

	verified, err := svc.VerifyLoginOTP(context.Background(), "9876543210", sender.last())
	if err != nil {
		t.Fatalf("VerifyLoginOTP: %v", err)
	}
	if verified.ID != p.ID {
		t.Fatalf("verified id = %s, want %s", verified.ID, p.ID)
	}

	// The challenge is consumed: the same code cannot log in twice.
	if _, err := svc.VerifyLoginOTP(context.Background(), "9876543210", sender.last()); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("replay err = %v, want ErrNoChallenge", err)
	}
}

func TestVerifyLoginOTPRejections(t *testing.T) {
	repo := newMemPrincipalRepo()
	sender := &captureSender{}
	svc := NewService(repo, sender, 10*time.Minute)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.VerifyLoginOTP(context.Background(), "0000000000", "123456"); !errors.Is(err, ErrPrincipalNotFound) {
		t.Fatalf("unknown mobile err = %v, want ErrPrincipalNotFound", err)
	}

	if _, err := svc.IssueLoginOTP(context.Background(), "9876543210", "Asha"); err != nil {
		t.Fatalf("IssueLoginOTP: %v", err)
	}

	if _, err := svc.VerifyLoginOTP(context.Background(), "9876543210", "999999"); !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("wrong code err = %v, want ErrInvalidOrExpiredOTP", err)
	}

	svc.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, err := svc.VerifyLoginOTP(context.Background(), "9876543210", sender.last()); !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("lapsed code err = %v, want ErrInvalidOrExpiredOTP", err)
	}
}

func TestIssueLoginOTPReplacesPriorCode(t *testing.T) {
	repo := newMemPrincipalRepo()
	sender := &captureSender{}
	svc := NewService(repo, sender, 10*time.Minute)

	if _, err := svc.IssueLoginOTP(context.Background(), "9876543210", "Asha"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	first := sender.last()
	if _, err := svc.IssueLoginOTP(context.Background(), "9876543210", ""); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	second := sender.last()
	if first == second {
		t.Fatal("re-issue must generate a fresh code")
	}

	if _, err := svc.VerifyLoginOTP(context.Background(), "9876543210", first); !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("stale code err = %v, want ErrInvalidOrExpiredOTP", err)
	}
	if _, err := svc.VerifyLoginOTP(context.Background(), "9876543210", second); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
}

func TestEnsurePatientReusesExisting(t *testing.T) {
	repo := newMemPrincipalRepo()
	svc := NewService(repo, &captureSender{}, 10*time.Minute)

	a, err := svc.EnsurePatient(context.Background(), "9876543210", "Asha")
	if err != nil {
		t.Fatalf("EnsurePatient: %v", err)
	}
	b, err := svc.EnsurePatient(context.Background(), "9876543210", "Someone Else")
	if err != nil {
		t.Fatalf("EnsurePatient again: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("second EnsurePatient created a new principal")
	}

	mobile, err := svc.PatientMobile(context.Background(), a.ID)
	if err != nil || mobile != "9876543210" {
		t.Fatalf("PatientMobile = %q, %v", mobile, err)
	}
}
