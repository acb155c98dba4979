package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/ahecn/referraldesk/internal/infrastructure/observability"
	apperrors "github.com/ahecn/referraldesk/pkg/errors"
)

// ActorHeader names the free-text origin recorded on events and audit entries
const ActorHeader = "X-Actor"

var validate = validator.New()

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps service errors onto HTTP status codes
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch appErr.Type {
	case apperrors.ErrorTypeNotFound:
		respondWithError(w, http.StatusNotFound, appErr.Message)
	case apperrors.ErrorTypeValidation:
		respondWithError(w, http.StatusBadRequest, appErr.Message)
	case apperrors.ErrorTypeInvalidTransition, apperrors.ErrorTypeConflict:
		respondWithError(w, http.StatusConflict, appErr.Message)
	case apperrors.ErrorTypeStorageUnavailable:
		w.Header().Set("Retry-After", "5")
		respondWithError(w, http.StatusServiceUnavailable, appErr.Message)
	default:
		observability.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondWithResult writes the result of a mutation that was applied. A change
// that stands but could not be fully saved is reported as 202 with a warning.
func respondWithResult(w http.ResponseWriter, r *http.Request, status int, key string, result interface{}, err error) {
	if err == nil {
		respondWithJSON(w, status, result)
		return
	}
	if apperrors.IsType(err, apperrors.ErrorTypeStorageUnavailable) {
		appErr, _ := apperrors.As(err)
		respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
			key:       result,
			"warning": appErr.Message,
		})
		return
	}
	respondWithAppError(w, r, err)
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags
func decodeAndValidate(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidationError("invalid request payload")
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.NewValidationError(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func actorFrom(r *http.Request, fallback string) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return fallback
}
