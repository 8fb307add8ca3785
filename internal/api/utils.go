package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"netguard-backend/internal/bridge"
	"netguard-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
)

// Error codes for failures detected by the router itself. Runner failures use
// the bridge.Code names.
const (
	ErrInvalidInput  = string(bridge.InvalidInput)
	ErrNotFound      = "NotFound"
	ErrInternalError = "InternalError"
)

// retryAfterSeconds is sent with every ServiceBusy response.
const retryAfterSeconds = "1"

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		slog.Error("error parsing request body", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request body: %v", err)
	}
	return data, nil
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := r.ParseForm(); err != nil {
		slog.Error("error parsing form", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	err := schema.NewDecoder().Decode(&data, r.Form)
	if err != nil {
		slog.Error("error decoding query params", "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params")
	}

	return data, nil
}

// statusResponse lets a handler pick a success status other than 200.
type statusResponse struct {
	status int
	body   any
}

func WithStatus(status int, body any) any {
	return statusResponse{status: status, body: body}
}

func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			WriteError(w, err)
			return
		}

		status := http.StatusOK
		if sr, ok := res.(statusResponse); ok {
			status, res = sr.status, sr.body
		}

		if res == nil {
			res = struct{}{}
		}

		writeJson(w, status, res)
	}
}

// WriteError maps err to a status code and writes the {"error","message"} body.
// Taxonomy errors from the bridge only expose their public message.
func WriteError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if status == http.StatusInternalServerError {
		slog.Error("internal server error received in endpoint", "error", err)
	}

	writeJson(w, status, body)
}

func errorResponse(err error) (int, api.ErrorResponse) {
	var berr *bridge.Error
	if errors.As(err, &berr) {
		return statusOf(berr.Code), api.ErrorResponse{Error: string(berr.Code), Message: berr.Message}
	}

	var cerr *codedError
	if errors.As(err, &cerr) {
		name := ErrInternalError
		switch cerr.code {
		case http.StatusBadRequest:
			name = ErrInvalidInput
		case http.StatusNotFound:
			name = ErrNotFound
		}
		return cerr.code, api.ErrorResponse{Error: name, Message: cerr.Error()}
	}

	slog.Error("recieved non coded error from endpoint", "error", err)
	return http.StatusInternalServerError, api.ErrorResponse{Error: ErrInternalError, Message: "internal server error"}
}

func statusOf(code bridge.Code) int {
	switch code {
	case bridge.InvalidInput:
		return http.StatusBadRequest
	case bridge.ServiceBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJson(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}

func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	param := chi.URLParam(r, key)

	if len(param) == 0 {
		return uuid.Nil, CodedErrorf(http.StatusBadRequest, "missing {%v} url parameter", key)
	}

	id, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, CodedErrorf(http.StatusBadRequest, "invalid uuid '%v' url parameter provided: %w", key, err)
	}

	return id, nil
}

func URLParamModelKind(r *http.Request, key string) (bridge.ModelKind, error) {
	kind, err := bridge.ParseModelKind(chi.URLParam(r, key))
	if err != nil {
		return "", CodedError(http.StatusBadRequest, err)
	}
	return kind, nil
}
