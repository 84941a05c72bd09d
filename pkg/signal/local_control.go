package signal

import (
	"context"
	"sync"

	"github.com/sparedes88/projector/pkg/broadcast"
)

// LocalControl drives a screen in-process when the console runs the
// server embedded (--serve)
type LocalControl struct {
	syncer *broadcast.Synchronizer
	tenant string
	screen string
	sub    *broadcast.Subscription
	frames chan broadcast.Frame
	once   sync.Once
}

// NewLocalControl subscribes to a screen through the synchronizer
func NewLocalControl(ctx context.Context, syncer *broadcast.Synchronizer, tenant, screen string) (*LocalControl, error) {
	lc := &LocalControl{
		syncer: syncer,
		tenant: tenant,
		screen: broadcast.NormalizeScreenCode(screen),
		frames: make(chan broadcast.Frame, 1),
	}
	sub, err := syncer.Subscribe(ctx, tenant, lc.screen, func(s broadcast.Screen) {
		offerFrame(lc.frames, syncer.FrameFor(context.Background(), s))
	})
	if err != nil {
		return nil, err
	}
	lc.sub = sub
	return lc, nil
}

func (lc *LocalControl) Songs(ctx context.Context) ([]broadcast.Song, error) {
	return lc.syncer.Songs().ListSongs(ctx, lc.tenant)
}

func (lc *LocalControl) SelectSong(ctx context.Context, songID string) error {
	_, err := lc.syncer.SelectSong(ctx, lc.tenant, lc.screen, songID)
	return err
}

func (lc *LocalControl) Advance(ctx context.Context, dir broadcast.Direction) error {
	_, err := lc.syncer.AdvanceVerse(ctx, lc.tenant, lc.screen, dir)
	return err
}

func (lc *LocalControl) ShowVerse(ctx context.Context, verse broadcast.VerseDisplay) error {
	_, err := lc.syncer.ShowVerse(ctx, lc.tenant, lc.screen, verse)
	return err
}

func (lc *LocalControl) Clear(ctx context.Context) error {
	_, err := lc.syncer.ClearScreen(ctx, lc.tenant, lc.screen)
	return err
}

func (lc *LocalControl) ApplyStyle(ctx context.Context, style broadcast.Style) error {
	_, err := lc.syncer.ApplyStyle(ctx, lc.tenant, lc.screen, style)
	return err
}

func (lc *LocalControl) EnableMic(ctx context.Context, offer broadcast.SessionDescription) (string, error) {
	screen, err := lc.syncer.EnableMic(ctx, lc.tenant, lc.screen, RoleControl, offer)
	if err != nil {
		return "", err
	}
	return screen.Mic.Session, nil
}

func (lc *LocalControl) PublishCandidate(ctx context.Context, session, candidate string) error {
	_, err := lc.syncer.PublishCandidate(ctx, lc.tenant, lc.screen, session, RoleControl, candidate)
	return err
}

func (lc *LocalControl) DisableMic(ctx context.Context) error {
	_, err := lc.syncer.DisableMic(ctx, lc.tenant, lc.screen)
	return err
}

// Frames returns the latest-state channel
func (lc *LocalControl) Frames() <-chan broadcast.Frame {
	return lc.frames
}

// Close ends the subscription
func (lc *LocalControl) Close() {
	lc.once.Do(lc.sub.Close)
}
