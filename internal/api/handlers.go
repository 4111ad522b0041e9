package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/principal"
	"github.com/medlink/clinic-core/internal/queue"
)

func bookTokenHandler(tokens TokenService, auth AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_actor", err.Error())
			return
		}

		var req BookTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		bookReq := queue.BookRequest{ClinicID: clinicID}

		if req.DoctorID != "" {
			doctorID, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			bookReq.DoctorID = &doctorID
		}
		if req.Reason != "" {
			reason := req.Reason
			bookReq.Reason = &reason
		}

		switch actor.Role {
		case queue.RolePatient:
			// Online self-booking: the actor is the patient.
			bookReq.PatientID = actor.ID
			bookReq.Origin = queue.OriginOnline

		case queue.RoleAttender, queue.RoleDoctor:
			// Walk-in entry at the staff member's own clinic.
			if actor.ClinicID == nil || *actor.ClinicID != clinicID {
				writeError(w, http.StatusForbidden, "forbidden", "staff may only book at their own clinic")
				return
			}
			bookReq.Origin = queue.OriginOffline

			switch {
			case req.PatientID != "":
				patientID, err := uuid.Parse(req.PatientID)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
					return
				}
				bookReq.PatientID = patientID
			case req.PatientMobile != "":
				p, err := auth.EnsurePatient(r.Context(), req.PatientMobile, req.PatientName)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
					return
				}
				bookReq.PatientID = p.ID
			default:
				writeError(w, http.StatusBadRequest, "missing_patient", "patient_id or patient_mobile is required")
				return
			}
		}

		token, err := tokens.Book(r.Context(), bookReq)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, newTokenResponse(*token))
	}
}

func transitionTokenHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_actor", err.Error())
			return
		}

		tokenID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_token_id", "id must be a valid UUID")
			return
		}

		var req TransitionTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		token, err := tokens.Transition(r.Context(), tokenID, queue.Status(req.Status), actor)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newTokenResponse(*token))
	}
}

func queueSnapshotHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := uuid.Parse(r.URL.Query().Get("clinic"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic must be a valid UUID")
			return
		}

		entries, err := tokens.Snapshot(r.Context(), clinicID, r.URL.Query().Get("day"))
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := make([]QueueEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, QueueEntryResponse{
				TokenResponse: newTokenResponse(e.Token),
				Position:      e.Position,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func activeVisitHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		visit, err := tokens.ActiveVisit(r.Context(), patientID, r.URL.Query().Get("day"))
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ActiveVisitResponse{
			Token:         newTokenResponse(visit.Token),
			PatientsAhead: visit.PatientsAhead,
		})
	}
}

func visitHistoryHandler(tokens TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		history, err := tokens.VisitHistory(r.Context(), patientID, 0)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		resp := make([]TokenResponse, 0, len(history))
		for _, t := range history {
			resp = append(resp, newTokenResponse(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func sendLoginOTPHandler(auth AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendLoginOTPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Mobile == "" {
			writeError(w, http.StatusBadRequest, "missing_mobile", "mobile is required")
			return
		}

		if _, err := auth.IssueLoginOTP(r.Context(), req.Mobile, req.Name); err != nil {
			handleAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "otp_sent"})
	}
}

func verifyLoginOTPHandler(auth AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyLoginOTPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p, err := auth.VerifyLoginOTP(r.Context(), req.Mobile, req.Code)
		if err != nil {
			handleAuthError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PrincipalResponse{
			ID:       p.ID,
			Mobile:   p.Mobile,
			Name:     p.Name,
			Role:     string(p.Role),
			ClinicID: p.ClinicID,
		})
	}
}

func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token_not_found", err.Error())
	case errors.Is(err, queue.ErrDuplicateActiveToken):
		writeError(w, http.StatusConflict, "duplicate_active_token", err.Error())
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, queue.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, queue.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "the queue is busy, please retry")
	case errors.Is(err, queue.ErrInvalidDay):
		writeError(w, http.StatusBadRequest, "invalid_day", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, principal.ErrPrincipalNotFound):
		writeError(w, http.StatusNotFound, "principal_not_found", err.Error())
	case errors.Is(err, principal.ErrNoChallenge),
		errors.Is(err, principal.ErrInvalidOrExpiredOTP):
		writeError(w, http.StatusBadRequest, "invalid_or_expired_otp", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
