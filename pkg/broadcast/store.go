package broadcast

import "context"

// ScreenStore persists screen records. UpdateScreen applies fn to the
// current record atomically, bumps Version and UpdatedAt, and fails with
// ErrConflict when expectedVersion is non-zero and stale.
type ScreenStore interface {
	CreateScreen(ctx context.Context, screen Screen) (Screen, error)
	GetScreen(ctx context.Context, tenant, id string) (Screen, error)
	ListScreens(ctx context.Context, tenant string) ([]Screen, error)
	DeleteScreen(ctx context.Context, tenant, id string) error
	UpdateScreen(ctx context.Context, tenant, id string, expectedVersion int64, fn func(*Screen) error) (Screen, error)

	// WatchScreen emits the current record first and then each later write.
	// Rapid writes may coalesce so that only the latest is delivered. The
	// channel closes when ctx is done or the screen is deleted.
	WatchScreen(ctx context.Context, tenant, id string) (<-chan Screen, error)
}

// SongStore persists a tenant's song library
type SongStore interface {
	CreateSong(ctx context.Context, song Song) (Song, error)
	GetSong(ctx context.Context, tenant, id string) (Song, error)
	ListSongs(ctx context.Context, tenant string) ([]Song, error)
	UpdateSong(ctx context.Context, song Song) (Song, error)
	DeleteSong(ctx context.Context, tenant, id string) error
}

// SignalLog is the append-only per-screen signaling queue. AppendSignal
// assigns a strictly increasing Seq. Deleting the screen drops the log and
// restarts the sequence.
type SignalLog interface {
	AppendSignal(ctx context.Context, tenant, screenID string, entry SignalEntry) (SignalEntry, error)
	Signals(ctx context.Context, tenant, screenID string, since int64) ([]SignalEntry, error)
	ClearSignals(ctx context.Context, tenant, screenID string) error
}

// Store is a backend that holds everything
type Store interface {
	ScreenStore
	SongStore
	SignalLog
}
