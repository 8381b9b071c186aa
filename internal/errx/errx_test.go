package errx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	errSentinel = errors.New("sentinel")
	errCause    = errors.New("cause")
)

func TestWrap_PreservesBothIdentities(t *testing.T) {
	wrapped := Wrap(errSentinel, errCause)
	assert.ErrorIs(t, wrapped, errSentinel)
	assert.ErrorIs(t, wrapped, errCause)
}

func TestWrap_NilCauseReturnsSentinel(t *testing.T) {
	assert.Equal(t, errSentinel, Wrap(errSentinel, nil))
}
