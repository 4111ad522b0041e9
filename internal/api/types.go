package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/consent"
	"github.com/medlink/clinic-core/internal/queue"
)

type BookTokenRequest struct {
	ClinicID      string `json:"clinic_id"`
	PatientID     string `json:"patient_id,omitempty"`
	PatientMobile string `json:"patient_mobile,omitempty"`
	PatientName   string `json:"patient_name,omitempty"`
	DoctorID      string `json:"doctor_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type TransitionTokenRequest struct {
	Status string `json:"status"`
}

type TokenResponse struct {
	ID        uuid.UUID  `json:"id"`
	ClinicID  uuid.UUID  `json:"clinic_id"`
	Day       string     `json:"day"`
	Number    int        `json:"number"`
	PatientID uuid.UUID  `json:"patient_id"`
	Origin    string     `json:"origin"`
	Status    string     `json:"status"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	Reason    *string    `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func newTokenResponse(t queue.VisitToken) TokenResponse {
	return TokenResponse{
		ID:        t.ID,
		ClinicID:  t.ClinicID,
		Day:       t.Day,
		Number:    t.Number,
		PatientID: t.PatientID,
		Origin:    string(t.Origin),
		Status:    string(t.Status),
		DoctorID:  t.DoctorID,
		Reason:    t.Reason,
		CreatedAt: t.CreatedAt,
	}
}

type QueueEntryResponse struct {
	TokenResponse
	Position *int `json:"position,omitempty"`
}

type ActiveVisitResponse struct {
	Token         TokenResponse `json:"token"`
	PatientsAhead int           `json:"patients_ahead"`
}

type RequestConsentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	ClinicID  string `json:"clinic_id,omitempty"`
}

type RequestConsentResponse struct {
	GrantID            uuid.UUID `json:"grant_id"`
	Status             string    `json:"status"`
	OTPIssuedToPatient bool      `json:"otp_issued_to_patient"`
}

type VerifyConsentRequest struct {
	Code string `json:"code"`
}

type RespondConsentRequest struct {
	Action string `json:"action"`
	Code   string `json:"code,omitempty"`
}

type ConsentResponse struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	ClinicID        *uuid.UUID `json:"clinic_id,omitempty"`
	Status          string     `json:"status"`
	OTPExpiresAt    *time.Time `json:"otp_expires_at,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func newConsentResponse(g consent.Grant) ConsentResponse {
	resp := ConsentResponse{
		ID:              g.ID,
		DoctorID:        g.DoctorID,
		PatientID:       g.PatientID,
		ClinicID:        g.ClinicID,
		Status:          string(g.Status),
		AccessExpiresAt: g.AccessExpiresAt,
		CreatedAt:       g.CreatedAt,
	}
	// The code itself never leaves the core; only its lifetime does.
	if g.Challenge != nil {
		expiresAt := g.Challenge.ExpiresAt
		resp.OTPExpiresAt = &expiresAt
	}
	return resp
}

type AccessResponse struct {
	Authorized bool `json:"authorized"`
}

type SendLoginOTPRequest struct {
	Mobile string `json:"mobile"`
	Name   string `json:"name,omitempty"`
}

type VerifyLoginOTPRequest struct {
	Mobile string `json:"mobile"`
	Code   string `json:"code"`
}

type PrincipalResponse struct {
	ID       uuid.UUID  `json:"id"`
	Mobile   string     `json:"mobile"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	ClinicID *uuid.UUID `json:"clinic_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
