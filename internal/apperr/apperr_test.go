package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsIdentity(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrConnectionFailed.Wrap(cause)

	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrFetchTimeout)
	assert.Equal(t, "connection failed: dial tcp: refused", err.Error())
	assert.Nil(t, ErrConnectionFailed.Cause, "sentinel must not be mutated")
}

func TestCategoryOf(t *testing.T) {
	wrapped := fmt.Errorf("index page: %w", ErrPageOutOfScope)

	assert.Equal(t, CategoryScope, CategoryOf(wrapped))
	assert.Equal(t, CategoryQuery, CategoryOf(ErrEmptyQuery))
	assert.Equal(t, Category(""), CategoryOf(errors.New("plain")))
}

func TestWithMessage(t *testing.T) {
	err := ErrBadStatusCode.WithMessage("unexpected status code %d", 503)

	assert.ErrorIs(t, err, ErrBadStatusCode)
	assert.Equal(t, "unexpected status code 503", err.Error())
}
