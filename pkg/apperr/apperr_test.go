package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	assert.ErrorIs(t, NotFound("call room %s", "r1"), ErrNotFound)
	assert.ErrorIs(t, Conflict("user %s already joined", "alice"), ErrConflict)
	assert.ErrorIs(t, RoomFull("r1"), ErrRoomFull)
	assert.ErrorIs(t, Precondition("recording still running"), ErrPrecondition)
}

func TestUpstreamWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("create router", cause)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "create router")
}

func TestIsDomain(t *testing.T) {
	assert.True(t, IsDomain(NotFound("x")))
	assert.True(t, IsDomain(RoomFull("r1")))
	assert.False(t, IsDomain(Upstream("upload file", errors.New("timeout"))))
	assert.False(t, IsDomain(errors.New("plain")))
}
