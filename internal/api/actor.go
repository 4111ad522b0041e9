package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/queue"
)

// The surrounding auth layer verifies credentials and forwards the
// resolved identity in these headers. The core trusts them as-is.
const (
	headerActorID     = "X-Actor-ID"
	headerActorRole   = "X-Actor-Role"
	headerActorClinic = "X-Actor-Clinic"
)

var errMissingActor = errors.New("missing or malformed actor headers")

func actorFromRequest(r *http.Request) (queue.Actor, error) {
	id, err := uuid.Parse(r.Header.Get(headerActorID))
	if err != nil {
		return queue.Actor{}, errMissingActor
	}

	role := queue.Role(r.Header.Get(headerActorRole))
	switch role {
	case queue.RoleDoctor, queue.RoleAttender, queue.RolePatient:
	default:
		return queue.Actor{}, errMissingActor
	}

	actor := queue.Actor{ID: id, Role: role}
	if raw := r.Header.Get(headerActorClinic); raw != "" {
		clinicID, err := uuid.Parse(raw)
		if err != nil {
			return queue.Actor{}, errMissingActor
		}
		actor.ClinicID = &clinicID
	}

	return actor, nil
}
