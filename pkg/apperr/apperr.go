// Package apperr defines the domain error kinds shared by the call registry and
// recording manager. Handlers map each kind to an HTTP status via pkg/response.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing room, recording, or local file.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness violation (e.g. user already in the room).
	ErrConflict = errors.New("conflict")
	// ErrRoomFull marks a join attempt on a room that already has two participants.
	ErrRoomFull = errors.New("room full")
	// ErrPrecondition marks an operation attempted in the wrong state
	// (e.g. upload before the recording is stopped).
	ErrPrecondition = errors.New("precondition failed")
	// ErrUpstream marks a failure or timeout in an external capability
	// (SFU control plane, capture process, object storage).
	ErrUpstream = errors.New("upstream failure")
)

// NotFound returns a NotFound error describing the missing entity.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Conflict returns a Conflict error.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// RoomFull returns a RoomFull error for the given room.
func RoomFull(roomID string) error {
	return fmt.Errorf("call room %s: %w", roomID, ErrRoomFull)
}

// Precondition returns a PreconditionFailed error.
func Precondition(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrPrecondition)
}

// Upstream wraps a failure from an external capability, naming the capability
// so logs can tell which collaborator broke.
func Upstream(capability string, err error) error {
	return fmt.Errorf("%s: %w: %w", capability, ErrUpstream, err)
}

// IsDomain reports whether err is one of the client-visible domain kinds
// (as opposed to an upstream failure).
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrRoomFull) ||
		errors.Is(err, ErrPrecondition)
}
