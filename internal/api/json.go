package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"dronedispatch/internal/dispatch"
	"dronedispatch/internal/opt"
	"dronedispatch/internal/simulator"
	"dronedispatch/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const maxBodyBytes = 1 << 20

var errValidation = errors.New("validation failed")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid("invalid JSON: %v", err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes and problem titles.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errValidation), errors.Is(err, opt.ErrEmptySelection):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, dispatch.ErrOrderNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, opt.ErrPayloadExceeded), errors.Is(err, opt.ErrRangeExceeded),
		errors.Is(err, dispatch.ErrMixedStores), errors.Is(err, dispatch.ErrStoreInactive):
		return http.StatusUnprocessableEntity, "Constraint violated"
	case errors.Is(err, dispatch.ErrOrderNotCreated), errors.Is(err, dispatch.ErrNoIdleDrone),
		errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrOrderConflict),
		errors.Is(err, store.ErrDroneUnavailable), errors.Is(err, simulator.ErrNotActive):
		return http.StatusConflict, "Conflict"
	}
	return http.StatusInternalServerError, "Internal error"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}
