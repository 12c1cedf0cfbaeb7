package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kenmoh/servipalbackend/media"
	"github.com/kenmoh/servipalbackend/orchestrator"
)

type APIError struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, APIError{Error: message})
}

func writeMultipartError(w http.ResponseWriter, err error) {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "too large"):
		writeJSONError(w, "uploaded file exceeds maximum allowed size", http.StatusRequestEntityTooLarge)

	case strings.Contains(msg, "content-type isn't multipart/form-data"):
		writeJSONError(w, "invalid content type, expected multipart/form-data", http.StatusBadRequest)

	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeValidationErrors(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(validationErrorsToMap(err))
}

func validationErrorsToMap(err error) map[string]string {
	errs := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			field := e.Field()
			switch e.Tag() {
			case "required":
				errs[field] = "is required"
			case "uuid4":
				errs[field] = "must be a valid UUID"
			default:
				errs[field] = "invalid value"
			}
		}
	} else {
		errs["error"] = err.Error()
	}
	return errs
}

// writeConversionError maps the upload pipeline's sentinel errors onto HTTP
// statuses. Anything unmapped is a 500.
func writeConversionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrPayloadTooLarge):
		writeJSONError(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, orchestrator.ErrUnsupportedMediaType):
		writeJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, media.ErrNoFiles),
		errors.Is(err, media.ErrTooManyImages),
		errors.Is(err, media.ErrTooManyVideos):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}
