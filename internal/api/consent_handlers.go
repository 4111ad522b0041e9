package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medlink/clinic-core/internal/consent"
)

func requestConsentHandler(consents ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RequestConsentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		var clinicID *uuid.UUID
		if req.ClinicID != "" {
			id, err := uuid.Parse(req.ClinicID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
				return
			}
			clinicID = &id
		}

		grant, otpIssued, err := consents.RequestAccess(r.Context(), doctorID, patientID, clinicID)
		if err != nil {
			handleConsentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, RequestConsentResponse{
			GrantID:            grant.ID,
			Status:             string(grant.Status),
			OTPIssuedToPatient: otpIssued,
		})
	}
}

func verifyConsentHandler(consents ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grantID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant_id", "id must be a valid UUID")
			return
		}

		var req VerifyConsentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Code == "" {
			writeError(w, http.StatusBadRequest, "missing_code", "code is required")
			return
		}

		grant, err := consents.Verify(r.Context(), grantID, req.Code)
		if err != nil {
			handleConsentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newConsentResponse(*grant))
	}
}

func respondConsentHandler(consents ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grantID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_grant_id", "id must be a valid UUID")
			return
		}

		var req RespondConsentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		grant, err := consents.Respond(r.Context(), grantID, req.Action, req.Code)
		if err != nil {
			handleConsentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newConsentResponse(*grant))
	}
}

func checkAccessHandler(consents ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctor"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(r.URL.Query().Get("patient"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient must be a valid UUID")
			return
		}

		authorized, err := consents.CheckAccess(r.Context(), doctorID, patientID)
		if err != nil {
			handleConsentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AccessResponse{Authorized: authorized})
	}
}

func patientConsentsHandler(consents ConsentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		grants, err := consents.GrantsForPatient(r.Context(), patientID)
		if err != nil {
			handleConsentError(w, err)
			return
		}

		resp := make([]ConsentResponse, 0, len(grants))
		for _, g := range grants {
			resp = append(resp, newConsentResponse(g))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleConsentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consent.ErrGrantNotFound):
		writeError(w, http.StatusNotFound, "grant_not_found", err.Error())
	case errors.Is(err, consent.ErrInvalidOrExpiredOTP):
		writeError(w, http.StatusBadRequest, "invalid_or_expired_otp", err.Error())
	case errors.Is(err, consent.ErrNotPending):
		writeError(w, http.StatusConflict, "not_pending", err.Error())
	case errors.Is(err, consent.ErrNotApproved):
		writeError(w, http.StatusConflict, "not_approved", err.Error())
	case errors.Is(err, consent.ErrInvalidAction):
		writeError(w, http.StatusBadRequest, "invalid_action", err.Error())
	case errors.Is(err, consent.ErrRequestBusy):
		writeError(w, http.StatusConflict, "request_busy", "another request for this pair is in flight, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
