package broadcast

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("already exists")
	ErrConflict        = errors.New("version conflict")
	ErrInvalid         = errors.New("invalid request")
	ErrNoSong          = errors.New("no song on screen")
	ErrEmptySong       = errors.New("song has no verses")
	ErrMicDisabled     = errors.New("microphone is not enabled")
	ErrSessionMismatch = errors.New("microphone session mismatch")
)

// Code maps an error to a short, stable reason string for clients
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrExists):
		return "exists"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrNoSong):
		return "no-song"
	case errors.Is(err, ErrEmptySong):
		return "empty-song"
	case errors.Is(err, ErrMicDisabled):
		return "mic-disabled"
	case errors.Is(err, ErrSessionMismatch):
		return "session-mismatch"
	default:
		return "internal"
	}
}
