package errors

import (
	stdErrors "errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// WrapRemote classifies a failure returned by a Google API call. Errors that
// already carry a code pass through unchanged.
func WrapRemote(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if stdErrors.As(err, &retrieveErr) {
		return Wrap(CodeAuth, err, message)
	}

	var apiErr *googleapi.Error
	if stdErrors.As(err, &apiErr) {
		return Wrap(classifyStatus(apiErr), err, message)
	}

	return Wrap(CodeTransient, err, message)
}

func classifyStatus(apiErr *googleapi.Error) Code {
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return CodeAuth
	case apiErr.Code == http.StatusForbidden:
		if isRateLimited(apiErr) {
			return CodeTransient
		}
		return CodeForbidden
	case apiErr.Code == http.StatusNotFound:
		return CodeNotFound
	case apiErr.Code == http.StatusBadRequest:
		if strings.Contains(apiErr.Message, "Unable to parse range") {
			return CodeSchema
		}
		return CodeValidation
	case apiErr.Code == http.StatusTooManyRequests:
		return CodeTransient
	case apiErr.Code >= 500:
		return CodeTransient
	default:
		return CodeTransient
	}
}

func isRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}
