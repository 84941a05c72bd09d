package signal

import (
	"context"

	"github.com/sparedes88/projector/pkg/broadcast"
)

// Controller abstracts the Control Surface's link to one screen.
// RemoteControl implements it over WebSocket, LocalControl in-process.
type Controller interface {
	// Songs lists the tenant's song library
	Songs(ctx context.Context) ([]broadcast.Song, error)

	SelectSong(ctx context.Context, songID string) error
	Advance(ctx context.Context, dir broadcast.Direction) error
	ShowVerse(ctx context.Context, verse broadcast.VerseDisplay) error
	Clear(ctx context.Context) error
	ApplyStyle(ctx context.Context, style broadcast.Style) error

	// EnableMic writes an offer and returns the new mic session
	EnableMic(ctx context.Context, offer broadcast.SessionDescription) (string, error)
	PublishCandidate(ctx context.Context, session, candidate string) error
	DisableMic(ctx context.Context) error

	// Frames delivers the latest screen state; stale frames are replaced
	Frames() <-chan broadcast.Frame

	// Close shuts down the controller
	Close()
}

// offerFrame replaces whatever is waiting in a one-slot channel with f
func offerFrame(ch chan broadcast.Frame, f broadcast.Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
