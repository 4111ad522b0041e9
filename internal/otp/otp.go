package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"
)

const (
	// CodeDigits is the width of every generated code.
	CodeDigits = 6

	// DefaultTTL is how long a challenge stays valid unless the caller
	// overrides it via config.
	DefaultTTL = 10 * time.Minute
)

// Challenge is a short-lived numeric code. It is embedded in whatever
// record the code protects (a consent grant, a login row) and must be
// cleared by the caller once a validation succeeds so the code cannot
// be replayed.
type Challenge struct {
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue generates a fresh challenge expiring at now+ttl.
func Issue(now time.Time, ttl time.Duration) (Challenge, error) {
	code, err := generateCode()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate otp code: %w", err)
	}
	return Challenge{
		Code:      code,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Matches reports whether code is exactly the challenge's code and the
// challenge has not lapsed at now.
func (c Challenge) Matches(code string, now time.Time) bool {
	if c.Code == "" || code == "" {
		return false
	}
	if c.Code != code {
		return false
	}
	return !now.After(c.ExpiresAt)
}

// Lapsed reports whether the challenge can no longer be redeemed.
func (c Challenge) Lapsed(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeDigits, n), nil
}

// Sender delivers a code to a patient out-of-band. Delivery (SMS
// gateway, push) lives outside the core; the core only guarantees the
// code's correctness and lifetime.
type Sender interface {
	Send(ctx context.Context, mobile, code string) error
}

// LogSender writes codes to the process log. Used in dev and tests the
// same way the upstream gateway integration is swapped in for prod.
type LogSender struct{}

func (LogSender) Send(_ context.Context, mobile, code string) error {
	log.Printf("[sms] to=%s code=%s", mobile, code)
	return nil
}
