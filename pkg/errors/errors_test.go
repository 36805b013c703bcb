package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(ErrChannelNotFound))
	assert.Equal(t, CodeConflict, CodeOf(ErrMessageDeleted))
	assert.Equal(t, CodePermissionDenied, CodeOf(ErrNotMessageSender))
	assert.Equal(t, CodeUnauthorized, CodeOf(ErrNotAParticipant))
	assert.Equal(t, CodeUnauthenticated, CodeOf(ErrInvalidCredential))

	// Unknown errors collapse to internal.
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("driver: bad connection")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

func TestCodeOfWrapped(t *testing.T) {
	cause := stderrors.New("timeout")
	err := Wrap(CodeInternal, "failed to send message", cause)

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.ErrorIs(t, err, cause)

	// Wrapping with fmt keeps the code reachable.
	outer := fmt.Errorf("handler: %w", ErrNotAParticipant)
	assert.Equal(t, CodeUnauthorized, CodeOf(outer))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "channel not found", MessageOf(ErrChannelNotFound))

	// Cause details never leak into the wire message.
	err := Wrap(CodeInternal, "failed to send message", stderrors.New("gocql: no hosts available"))
	assert.Equal(t, "failed to send message", MessageOf(err))
	assert.Contains(t, err.Error(), "no hosts available")

	assert.Equal(t, "internal server error", MessageOf(stderrors.New("raw")))
}
