package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticationReasonsAreDistinct(t *testing.T) {
	reasons := []error{ErrNoToken, ErrInvalidToken, ErrUserNotFound}
	seen := map[string]bool{}
	for _, r := range reasons {
		assert.True(t, errors.Is(r, ErrAuthentication))
		assert.True(t, Fatal(r))
		assert.False(t, Retryable(r))
		assert.False(t, seen[r.Error()], "duplicate reason %q", r.Error())
		seen[r.Error()] = true
	}
	assert.Equal(t, "no token", ErrNoToken.Error())
	assert.Equal(t, "invalid token", ErrInvalidToken.Error())
	assert.Equal(t, "user not found", ErrUserNotFound.Error())
}

func TestClassification(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("join: %w", ErrAccessDenied), CodeAccessDenied, http.StatusForbidden},
		{fmt.Errorf("lookup: %w", ErrRoomNotFound), CodeRoomNotFound, http.StatusNotFound},
		{fmt.Errorf("repair: %w", ErrBookingNotFound), CodeBookingNotFound, http.StatusNotFound},
		{fmt.Errorf("create: %w", ErrDuplicateActiveRoom), CodeDuplicateActiveRoom, http.StatusConflict},
		{fmt.Errorf("append: %w", ErrPersistence), CodePersistence, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: content is empty", ErrInvalidRequest), CodeInvalidRequest, http.StatusBadRequest},
		{ErrInvalidToken, CodeAuthentication, http.StatusUnauthorized},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
		assert.Equal(t, tc.status, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestRetryableOnlyForPersistence(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("append: %w", ErrPersistence)))
	assert.False(t, Retryable(ErrAccessDenied))
	assert.False(t, Fatal(ErrAccessDenied))
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(errors.New("pq: relation does not exist")))
	assert.Equal(t, ErrPersistence.Error(), PublicMessage(fmt.Errorf("%w: dial tcp refused", ErrPersistence)))
	assert.Equal(t, "no token", PublicMessage(ErrNoToken))
}
