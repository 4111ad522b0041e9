package queue

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting        Status = "waiting"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Origin string

const (
	OriginOnline  Origin = "online"
	OriginOffline Origin = "offline"
)

type Role string

const (
	RoleDoctor   Role = "doctor"
	RoleAttender Role = "attender"
	RolePatient  Role = "patient"
)

// Actor identifies who is driving a transition. Identity and role come
// from the surrounding auth layer and are trusted as-is.
type Actor struct {
	ID       uuid.UUID
	Role     Role
	ClinicID *uuid.UUID
}

// VisitToken is one patient's queue slot at a clinic on a business day.
// Number is unique and gap-free per (ClinicID, Day) and never reassigned.
type VisitToken struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Day       string
	Number    int
	PatientID uuid.UUID
	Origin    Origin
	Status    Status
	DoctorID  *uuid.UUID
	Reason    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the token still occupies a queue slot.
func (t *VisitToken) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusInConsultation
}

// QueueEntry is a token in a queue snapshot. Position is the number of
// still-active tokens ahead of it and is only set for active entries.
type QueueEntry struct {
	Token    VisitToken
	Position *int
}

// ActiveVisit is a patient's live token plus how many active tokens at
// the same clinic and day hold a smaller number.
type ActiveVisit struct {
	Token         VisitToken
	PatientsAhead int
}
