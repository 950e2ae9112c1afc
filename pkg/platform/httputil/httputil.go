// Package httputil writes the API response envelope and decodes request bodies.
//
// Every response has the shape {"success": bool, "message": string,
// "details": any}. Failures add "error" (the domain error code) and,
// except for internal errors, "error_description".
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	dErrors "grc/pkg/domain-errors"
	"grc/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Envelope is the response body for every endpoint.
type Envelope struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	Details          any    `json:"details,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Validatable is implemented by request DTOs that need checks beyond struct tags.
// Validate may also populate parsed fields on the receiver.
type Validatable interface {
	Validate() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// WriteJSON writes v verbatim with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess wraps details in a success envelope.
func WriteSuccess(w http.ResponseWriter, status int, message string, details any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Details: details})
}

// WriteError maps err to a status and failure envelope. Internal error
// messages never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.HTTPStatus(code)
	env := Envelope{Success: false, Error: string(code)}
	if code == dErrors.CodeInternal {
		env.Message = "internal server error"
	} else {
		env.Message = dErrors.MessageOf(err)
		env.ErrorDescription = env.Message
	}
	WriteJSON(w, status, env)
}

// DecodeAndPrepare decodes a JSON body into T, runs struct-tag validation and,
// when T implements Validatable, its Validate method. On failure it writes the
// error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}
	if err := Prepare(req); err != nil {
		logger.WarnContext(ctx, "request validation failed",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}

// Prepare validates v with struct tags and then Validate, if implemented.
func Prepare(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return dErrors.New(dErrors.CodeValidation, describe(verrs))
		}
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
		}
	}
	if vv, ok := v.(Validatable); ok {
		return vv.Validate()
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, field+" must be one of ["+fe.Param()+"]")
		case "max":
			parts = append(parts, field+" must be at most "+fe.Param())
		case "min", "gte":
			parts = append(parts, field+" must be at least "+fe.Param())
		default:
			parts = append(parts, field+" failed "+fe.Tag()+" validation")
		}
	}
	return strings.Join(parts, "; ")
}

// RequirePrincipal returns the authenticated principal or writes 401.
func RequirePrincipal(w http.ResponseWriter, r *http.Request) (requestcontext.Principal, bool) {
	p, ok := requestcontext.PrincipalFrom(r.Context())
	if !ok || p.UserID.IsNil() || p.TenantID.IsNil() {
		WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return requestcontext.Principal{}, false
	}
	return p, true
}

// PathID parses the named chi URL parameter with parse, writing the parse
// error on failure.
func PathID[T any](w http.ResponseWriter, r *http.Request, name string, parse func(string) (T, error)) (T, bool) {
	v, err := parse(chi.URLParam(r, name))
	if err != nil {
		WriteError(w, err)
		var zero T
		return zero, false
	}
	return v, true
}
