package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeDurability, cause, "enqueue expense")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDurability, err.Code())
	assert.Equal(t, "LOCAL_DURABILITY: enqueue expense: disk full", err.Error())
}

func TestAsFindsWrappedError(t *testing.T) {
	inner := New(CodeNotFound, "row missing")
	outer := fmt.Errorf("update row: %w", inner)

	typed := As(outer)
	require.NotNil(t, typed)
	assert.Equal(t, CodeNotFound, typed.Code())
	assert.Equal(t, CodeNotFound, CodeOf(outer))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.Nil(t, As(nil))
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeTransient, "x")))
	assert.True(t, IsRetryable(fmt.Errorf("untyped")))
	assert.False(t, IsRetryable(New(CodeSchema, "x")))
	assert.False(t, IsRetryable(New(CodeValidation, "x")))
	assert.False(t, IsRetryable(nil))

	assert.True(t, RequiresLogin(New(CodeAuth, "x")))
	assert.True(t, RequiresLogin(New(CodeForbidden, "x")))
	assert.False(t, RequiresLogin(New(CodeTransient, "x")))
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "bad payload").WithDetails(map[string]string{"amount": "required"})
	assert.Equal(t, map[string]string{"amount": "required"}, err.Details())
}

func TestWrapRemoteClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, CodeAuth},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden, Message: "The caller does not have permission"}, CodeForbidden},
		{"rate limited 403", &googleapi.Error{
			Code:   http.StatusForbidden,
			Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}},
		}, CodeTransient},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, CodeNotFound},
		{"bad range", &googleapi.Error{Code: http.StatusBadRequest, Message: "Unable to parse range: 'Nope'!A1:ZZ1"}, CodeSchema},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest, Message: "Invalid value"}, CodeValidation},
		{"too many", &googleapi.Error{Code: http.StatusTooManyRequests}, CodeTransient},
		{"server", &googleapi.Error{Code: http.StatusServiceUnavailable}, CodeTransient},
		{"token refresh", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, CodeAuth},
		{"network", fmt.Errorf("dial tcp: connection refused"), CodeTransient},
		{"already typed", New(CodeSchema, "Date column missing"), CodeSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapRemote(tt.err, "remote call")
			assert.Equal(t, tt.want, CodeOf(wrapped))
		})
	}

	assert.NoError(t, WrapRemote(nil, "noop"))
}
