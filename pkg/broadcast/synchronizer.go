package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// maxCodeAttempts bounds retries when a generated screen code collides
const maxCodeAttempts = 16

// WriteOption tweaks a single write
type WriteOption func(*writeOptions)

type writeOptions struct {
	expectedVersion int64
}

// IfVersion makes the write fail with ErrConflict unless the record is
// still at version v. Writers that get a conflict must re-read first.
func IfVersion(v int64) WriteOption {
	return func(o *writeOptions) { o.expectedVersion = v }
}

func collect(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Synchronizer keeps one authoritative record per screen and fans every
// change out to subscribers
type Synchronizer struct {
	screens ScreenStore
	songs   SongStore
	signals SignalLog
	logger  *zap.Logger
}

// NewSynchronizer wires the synchronizer over its stores
func NewSynchronizer(screens ScreenStore, songs SongStore, signals SignalLog, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		screens: screens,
		songs:   songs,
		signals: signals,
		logger:  logger,
	}
}

// Songs exposes the song library
func (s *Synchronizer) Songs() SongStore {
	return s.songs
}

// CreateScreen initializes a screen with an empty display and the default
// style. Calling it twice creates two screens.
func (s *Synchronizer) CreateScreen(ctx context.Context, tenant, name string) (Screen, error) {
	tenant = strings.TrimSpace(tenant)
	name = strings.TrimSpace(name)
	if tenant == "" || name == "" {
		return Screen{}, fmt.Errorf("%w: tenant and name are required", ErrInvalid)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		screen, err := s.screens.CreateScreen(ctx, Screen{
			Tenant:  tenant,
			ID:      GenerateScreenCode(),
			Name:    name,
			Display: EmptyDisplay(),
			Style:   DefaultStyle(),
		})
		if errors.Is(err, ErrExists) {
			continue
		}
		if err != nil {
			s.logger.Error("create screen failed", zap.String("tenant", tenant), zap.Error(err))
			return Screen{}, err
		}
		s.logger.Info("screen created",
			zap.String("tenant", tenant),
			zap.String("screen", screen.ID),
			zap.String("name", name),
		)
		return screen, nil
	}
	return Screen{}, fmt.Errorf("create screen: no free code after %d attempts: %w", maxCodeAttempts, ErrExists)
}

// EnsureScreen reuses the first screen named name, creating it otherwise
func (s *Synchronizer) EnsureScreen(ctx context.Context, tenant, name string) (Screen, error) {
	screens, err := s.screens.ListScreens(ctx, tenant)
	if err != nil {
		return Screen{}, err
	}
	for _, screen := range screens {
		if screen.Name == name {
			return screen, nil
		}
	}
	return s.CreateScreen(ctx, tenant, name)
}

// GetScreen returns one screen
func (s *Synchronizer) GetScreen(ctx context.Context, tenant, id string) (Screen, error) {
	return s.screens.GetScreen(ctx, tenant, NormalizeScreenCode(id))
}

// ListScreens returns the tenant's screens
func (s *Synchronizer) ListScreens(ctx context.Context, tenant string) ([]Screen, error) {
	return s.screens.ListScreens(ctx, tenant)
}

// DeleteScreen removes a screen and its signaling log
func (s *Synchronizer) DeleteScreen(ctx context.Context, tenant, id string) error {
	id = NormalizeScreenCode(id)
	if err := s.screens.DeleteScreen(ctx, tenant, id); err != nil {
		return err
	}
	if err := s.signals.ClearSignals(ctx, tenant, id); err != nil {
		s.logger.Warn("clear signals after delete failed", zap.String("screen", id), zap.Error(err))
	}
	return nil
}

// Subscription is a live listener on one screen
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close unregisters the listener. It does not wait for an in-flight
// callback, so it is safe to call from inside onChange.
func (sub *Subscription) Close() {
	sub.once.Do(sub.cancel)
}

// Done is closed once no more callbacks will fire
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Subscribe calls onChange immediately with the current state and again on
// every later write until ctx is done or the subscription is closed.
// Intermediate states may be skipped when writes arrive faster than
// onChange returns.
func (s *Synchronizer) Subscribe(ctx context.Context, tenant, id string, onChange func(Screen)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	updates, err := s.screens.WatchScreen(ctx, tenant, NormalizeScreenCode(id))
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer cancel()
		for screen := range updates {
			onChange(screen)
		}
	}()
	return sub, nil
}

// SetDisplayState overwrites the display state. The branch not named by
// state.Kind is cleared. A song display must reference an existing song
// and an in-range verse.
func (s *Synchronizer) SetDisplayState(ctx context.Context, tenant, id string, state DisplayState, opts ...WriteOption) (Screen, error) {
	state = state.Normalize()
	if state.Kind == DisplaySong {
		song, err := s.songs.GetSong(ctx, tenant, state.Song.SongID)
		if err != nil {
			return Screen{}, s.fail("set display", tenant, id, fmt.Errorf("song %s: %w", state.Song.SongID, err))
		}
		if len(song.Verses) == 0 {
			return Screen{}, s.fail("set display", tenant, id, ErrEmptySong)
		}
		if state.Song.VerseIndex < 0 || state.Song.VerseIndex >= len(song.Verses) {
			return Screen{}, s.fail("set display", tenant, id,
				fmt.Errorf("%w: verse %d of %d", ErrInvalid, state.Song.VerseIndex, len(song.Verses)))
		}
	}

	o := collect(opts)
	screen, err := s.screens.UpdateScreen(ctx, tenant, NormalizeScreenCode(id), o.expectedVersion, func(sc *Screen) error {
		sc.Display = state
		return nil
	})
	if err != nil {
		return Screen{}, s.fail("set display", tenant, id, err)
	}
	return screen, nil
}

// SelectSong shows the first verse of a song, clearing any Bible verse
func (s *Synchronizer) SelectSong(ctx context.Context, tenant, id, songID string, opts ...WriteOption) (Screen, error) {
	return s.SetDisplayState(ctx, tenant, id, SongState(songID, 0), opts...)
}

// ShowVerse shows a Bible verse, clearing any song
func (s *Synchronizer) ShowVerse(ctx context.Context, tenant, id string, verse VerseDisplay, opts ...WriteOption) (Screen, error) {
	if strings.TrimSpace(verse.Text) == "" {
		return Screen{}, fmt.Errorf("%w: verse text is required", ErrInvalid)
	}
	return s.SetDisplayState(ctx, tenant, id, DisplayState{Kind: DisplayVerse, Verse: &verse}, opts...)
}

// ClearScreen empties both display branches at once
func (s *Synchronizer) ClearScreen(ctx context.Context, tenant, id string, opts ...WriteOption) (Screen, error) {
	return s.SetDisplayState(ctx, tenant, id, EmptyDisplay(), opts...)
}

// AdvanceVerse steps the current song's verse index, wrapping circularly
func (s *Synchronizer) AdvanceVerse(ctx context.Context, tenant, id string, dir Direction, opts ...WriteOption) (Screen, error) {
	id = NormalizeScreenCode(id)
	current, err := s.screens.GetScreen(ctx, tenant, id)
	if err != nil {
		return Screen{}, s.fail("advance verse", tenant, id, err)
	}
	if current.Display.Kind != DisplaySong || current.Display.Song == nil {
		return Screen{}, s.fail("advance verse", tenant, id, ErrNoSong)
	}

	songID := current.Display.Song.SongID
	song, err := s.songs.GetSong(ctx, tenant, songID)
	if err != nil {
		return Screen{}, s.fail("advance verse", tenant, id, fmt.Errorf("song %s: %w", songID, err))
	}

	o := collect(opts)
	screen, err := s.screens.UpdateScreen(ctx, tenant, id, o.expectedVersion, func(sc *Screen) error {
		// The record may have moved on since the read above.
		if sc.Display.Kind != DisplaySong || sc.Display.Song == nil || sc.Display.Song.SongID != songID {
			return ErrNoSong
		}
		next, err := AdvanceIndex(sc.Display.Song.VerseIndex, len(song.Verses), dir)
		if err != nil {
			return err
		}
		sc.Display = SongState(songID, next)
		return nil
	})
	if err != nil {
		return Screen{}, s.fail("advance verse", tenant, id, err)
	}
	return screen, nil
}

// ApplyStyle commits a style draft as the live style. Bounds are checked at
// the API boundary, not here.
func (s *Synchronizer) ApplyStyle(ctx context.Context, tenant, id string, style Style, opts ...WriteOption) (Screen, error) {
	o := collect(opts)
	screen, err := s.screens.UpdateScreen(ctx, tenant, NormalizeScreenCode(id), o.expectedVersion, func(sc *Screen) error {
		sc.Style = style
		return nil
	})
	if err != nil {
		return Screen{}, s.fail("apply style", tenant, id, err)
	}
	return screen, nil
}

// Frame is a screen together with its derived presentation
type Frame struct {
	Screen Screen   `json:"screen"`
	Slide  Slide    `json:"slide"`
	Render Rendered `json:"render"`
}

// FrameFor derives the viewer presentation for a screen. A referenced song
// that no longer exists renders as an empty slide.
func (s *Synchronizer) FrameFor(ctx context.Context, screen Screen) Frame {
	var song *Song
	if screen.Display.Kind == DisplaySong && screen.Display.Song != nil {
		found, err := s.songs.GetSong(ctx, screen.Tenant, screen.Display.Song.SongID)
		if err == nil {
			song = &found
		} else {
			s.logger.Warn("song on screen not resolvable",
				zap.String("tenant", screen.Tenant),
				zap.String("screen", screen.ID),
				zap.String("song", screen.Display.Song.SongID),
				zap.Error(err),
			)
		}
	}
	return Frame{
		Screen: screen,
		Slide:  SlideFor(screen.Display, song),
		Render: Resolve(screen.Style),
	}
}

func (s *Synchronizer) fail(op, tenant, id string, err error) error {
	s.logger.Warn(op+" failed",
		zap.String("tenant", tenant),
		zap.String("screen", id),
		zap.String("code", Code(err)),
		zap.Error(err),
	)
	return err
}
