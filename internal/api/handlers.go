package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/goodtune/tasktracker/internal/tracking"
	"github.com/gorilla/mux"
)

// CheckinRequest is the body of POST /checkin. Fields are pointers so a
// missing field can be told apart from an empty one.
type CheckinRequest struct {
	User *string `json:"user"`
	Task *string `json:"task"`
}

// CheckinResponse is returned on a successful check-in.
type CheckinResponse struct {
	SessionID string `json:"session_id"`
}

// CheckoutRequest is the body of POST /checkout.
type CheckoutRequest struct {
	User *string `json:"user"`
}

// missingFieldError is returned by decode steps when a required field is
// absent from the body.
type missingFieldError struct {
	field string
}

func (e *missingFieldError) Error() string {
	return "field required: " + e.field
}

func (r *CheckinRequest) validate() error {
	if r.User == nil {
		return &missingFieldError{field: "user"}
	}
	if r.Task == nil {
		return &missingFieldError{field: "task"}
	}
	return nil
}

func (r *CheckoutRequest) validate() error {
	if r.User == nil {
		return &missingFieldError{field: "user"}
	}
	return nil
}

// decodeBody decodes the JSON body into v and runs its validation. It
// writes the error response itself and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{ validate() error }) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := v.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.tracker.Checkin(r.Context(), *req.User, *req.Task)
	if err != nil {
		s.writeTrackingError(w, err, "Check-in failed")
		return
	}

	writeJSON(w, http.StatusOK, CheckinResponse{SessionID: session.ID})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := s.tracker.Checkout(r.Context(), *req.User); err != nil {
		s.writeTrackingError(w, err, "Check-out failed")
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.tracker.Report(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}

	if report.Empty() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body, err := encodeReport(report, s.config.ReportUnit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.tracker.OpenSessions(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list open sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, err := url.PathUnescape(mux.Vars(r)["user"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user in path")
		return
	}

	session, err := s.tracker.Peek(r.Context(), user)
	if err != nil {
		if errors.Is(err, tracking.ErrNotCheckedIn) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeTrackingError(w, err, "Failed to retrieve session")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeTrackingError maps business errors to 4xx with their own message and
// everything else to a 500 with a generic one.
func (s *Server) writeTrackingError(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, tracking.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracking.ErrAlreadyCheckedIn), errors.Is(err, tracking.ErrNotCheckedIn):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg(generic)
		writeError(w, http.StatusInternalServerError, generic)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
