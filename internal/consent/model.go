package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Grant is a time-boxed authorization letting one doctor read one
// patient's cross-clinic history. ClinicID is optional: a doctor may
// have no clinic affiliation at request time.
type Grant struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	ClinicID        *uuid.UUID
	Status          Status
	Challenge       *otp.Challenge
	AccessExpiresAt *time.Time
	RespondedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LiveApproved reports whether the grant authorizes access at now. The
// timestamp check is authoritative: a stored "approved" whose window has
// passed grants nothing, whether or not a sweep rewrote the row.
func (g *Grant) LiveApproved(now time.Time) bool {
	return g.Status == StatusApproved && g.AccessExpiresAt != nil && g.AccessExpiresAt.After(now)
}

// EffectiveStatus derives what the grant means at now, overriding the
// stored column for approved grants whose access window has lapsed.
func (g *Grant) EffectiveStatus(now time.Time) Status {
	if g.Status == StatusApproved && !g.LiveApproved(now) {
		return StatusExpired
	}
	return g.Status
}

// ChallengeLapsed reports whether the pending grant holds no redeemable
// code anymore.
func (g *Grant) ChallengeLapsed(now time.Time) bool {
	return g.Challenge == nil || g.Challenge.Lapsed(now)
}
