package api

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/suspectuso/paylink-relay/internal/correlator"
	"github.com/suspectuso/paylink-relay/internal/storage"
	"github.com/suspectuso/paylink-relay/internal/stripeapi"
	"github.com/suspectuso/paylink-relay/internal/validation"
)

const maxBodyBytes = 64 << 10

var errBadBody = errors.New("invalid request body")

// httpError carries an explicit status and user-facing message.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, message string) *httpError {
	return &httpError{status: status, message: message}
}

// errorEnvelope is the body of every failed API response.
type errorEnvelope struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
	OldInput  any    `json:"oldInput"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// respondError maps err to a status and writes the error envelope. Server
// side failures are logged and answered with a generic message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, oldInput any) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	if oldInput == nil {
		oldInput = ""
	}
	respondJSON(w, status, errorEnvelope{
		IsSuccess: false,
		Message:   message,
		OldInput:  oldInput,
	})
}

func classify(err error) (int, string) {
	var he *httpError
	var verr *validation.RequestValidationError

	switch {
	case errors.As(err, &he):
		return he.status, he.message
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, "Invalid request body."
	case errors.Is(err, correlator.ErrSignature):
		return http.StatusBadRequest, "Webhook Error: " + err.Error()
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, stripeapi.ErrResourceMissing):
		return http.StatusNotFound, "Resource not found."
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, "Account or email already exists."
	default:
		return http.StatusInternalServerError, "Server Error"
	}
}

// decodeRequest reads a JSON or form-encoded body into dst. String values
// are trimmed and numbers are kept as their literal text.
func decodeRequest(r *http.Request, dst any) error {
	fields := make(map[string]any)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return errBadBody
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}

	default:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return errBadBody
		}
		if len(bytes.TrimSpace(body)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(&fields); err != nil {
				return errBadBody
			}
		}
	}

	for k, v := range fields {
		switch val := v.(type) {
		case string:
			fields[k] = strings.TrimSpace(val)
		case json.Number:
			fields[k] = val.String()
		}
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return errBadBody
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errBadBody
	}
	return nil
}
