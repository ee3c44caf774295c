package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsSentinelIdentity(t *testing.T) {
	sentinel := NotFound("conversation not found")
	wrapped := fmt.Errorf("load: %w", Wrap(sentinel, errors.New("sql: no rows")))

	assert.ErrorIs(t, wrapped, sentinel)
	assert.NotErrorIs(t, wrapped, NotFound("conversation not found"))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
	assert.Equal(t, "conversation not found", PublicMessage(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		InvalidArg("bad"):   http.StatusBadRequest,
		Forbidden("no"):     http.StatusForbidden,
		Conflict("race"):    http.StatusConflict,
		Unauthorized("who"): http.StatusUnauthorized,
		NotFound("gone"):    http.StatusNotFound,
		errors.New("boom"):  http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal server error", PublicMessage(errors.New("dial tcp: refused")))
	assert.Equal(t, "internal server error", PublicMessage(Internal("disk full")))
}
