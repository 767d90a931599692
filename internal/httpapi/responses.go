package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

var statusByCode = map[pkgerrors.Code]int{
	pkgerrors.CodeValidation: http.StatusBadRequest,
	pkgerrors.CodeAuth:       http.StatusUnauthorized,
	pkgerrors.CodeForbidden:  http.StatusForbidden,
	pkgerrors.CodeNotFound:   http.StatusNotFound,
	pkgerrors.CodeSchema:     http.StatusUnprocessableEntity,
	pkgerrors.CodeTransient:  http.StatusBadGateway,
	pkgerrors.CodeDurability: http.StatusServiceUnavailable,
	pkgerrors.CodeInternal:   http.StatusInternalServerError,
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeSuccessStatus(w, http.StatusOK, data)
}

func writeSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	code := typed.Code()
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := pkgerrors.MetadataFor(code).PublicMessage
	switch code {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeAuth, pkgerrors.CodeForbidden:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("error_code", string(code)).
		Msg("Request failed")

	writeJSON(w, status, errorEnvelope{Error: apiError{Code: string(code), Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
