package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrappersKeepKindMatching(t *testing.T) {
	err := NotFoundf("user %d", 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "user 42")

	err = fmt.Errorf("outer: %w", Conflictf("dup %q", "alice"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStorageError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Storage("insert message", cause)

	assert.True(t, IsStorage(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert message")

	assert.False(t, IsStorage(ErrNotFound))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidArgumentf("bad")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrAuthentication))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(AccessDeniedf("no")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFoundf("gone")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Conflictf("dup")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Storage("op", errors.New("x"))))
}

func TestCodeMapping(t *testing.T) {
	assert.Equal(t, "access_denied", Code(AccessDeniedf("no")))
	assert.Equal(t, "authentication", Code(ErrAuthentication))
	assert.Equal(t, "internal", Code(errors.New("anything else")))
}
