package principal

import (
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/otp"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleDoctor   Role = "doctor"
	RoleAttender Role = "attender"
	RoleAdmin    Role = "admin"
)

// Principal is the minimal identity record the core needs: enough to
// resolve a caller to {id, role, clinic} and to anchor the login OTP.
// Credential issuance (JWTs, sessions) belongs to the surrounding auth
// layer.
type Principal struct {
	ID             uuid.UUID
	Mobile         string
	Name           string
	Role           Role
	ClinicID       *uuid.UUID
	LoginChallenge *otp.Challenge
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
