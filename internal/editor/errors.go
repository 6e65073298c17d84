package editor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/vocalparam/internal/analysis"
	"github.com/MrWong99/vocalparam/internal/device"
	"github.com/MrWong99/vocalparam/internal/observe"
	"github.com/MrWong99/vocalparam/internal/oto"
	"github.com/MrWong99/vocalparam/internal/recording"
	"github.com/MrWong99/vocalparam/internal/store"
	"github.com/MrWong99/vocalparam/pkg/audio"
)

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

type integrityDetail struct {
	Reason string `json:"reason"`
	Have   int64  `json:"have"`
	Want   int64  `json:"want"`
}

type estimationDetail struct {
	Reason   string `json:"reason"`
	Duration int64  `json:"duration"`
	Required int64  `json:"required"`
}

type validationDetail struct {
	Rule   string `json:"rule"`
	Marker string `json:"marker"`
	Detail string `json:"detail"`
}

// classify maps an error to its HTTP status and JSON kind.
func classify(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	var (
		devErr *audio.DeviceError
		bufErr *recording.BufferIntegrityError
		estErr *oto.EstimationError
		valErr *oto.ValidationError
	)
	switch {
	case errors.As(err, &devErr):
		body.Kind = "device_" + devErr.Kind.String()
		return http.StatusServiceUnavailable, body
	case errors.Is(err, device.ErrNotOpen):
		body.Kind = "device_not_open"
		return http.StatusServiceUnavailable, body
	case errors.As(err, &bufErr):
		body.Kind = "buffer_integrity"
		body.Detail = integrityDetail{Reason: bufErr.Reason, Have: bufErr.Have, Want: bufErr.Want}
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &estErr):
		body.Kind = "estimation"
		body.Detail = estimationDetail{Reason: estErr.Reason, Duration: estErr.Duration, Required: estErr.Required}
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &valErr):
		body.Kind = "validation"
		body.Detail = validationDetail{Rule: string(valErr.Rule), Marker: valErr.Marker.String(), Detail: valErr.Detail}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, store.ErrNotFound):
		body.Kind = "not_found"
		return http.StatusNotFound, body
	case errors.Is(err, store.ErrNoEntry):
		body.Kind = "no_entry"
		return http.StatusConflict, body
	case errors.Is(err, device.ErrSessionActive):
		body.Kind = "session_active"
		return http.StatusConflict, body
	case errors.Is(err, recording.ErrWrongState):
		body.Kind = "wrong_state"
		return http.StatusConflict, body
	case errors.Is(err, analysis.ErrQueueFull), errors.Is(err, analysis.ErrStopped):
		body.Kind = "analysis_unavailable"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Kind = "timeout"
		return http.StatusGatewayTimeout, body
	}
	body.Kind = "internal"
	return http.StatusInternalServerError, body
}

// writeError classifies err and writes it as JSON.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn("editor request failed", "path", r.URL.Path, "kind", body.Kind, "err", err)
	} else {
		log.Debug("editor request refused", "path", r.URL.Path, "kind", body.Kind, "err", err)
	}
	writeJSON(w, status, body)
}

// badRequest writes a 400 with kind bad_request.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Kind: "bad_request", Message: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("editor: encode response", "err", err)
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
