package mic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparedes88/projector/pkg/broadcast"
	sig "github.com/sparedes88/projector/pkg/signal"
	"github.com/sparedes88/projector/pkg/store"
)

// heldSignaler holds EnableMic until release is closed
type heldSignaler struct {
	*sig.LocalControl
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *heldSignaler) EnableMic(ctx context.Context, offer broadcast.SessionDescription) (string, error) {
	h.once.Do(func() { close(h.entered) })
	<-h.release
	return h.LocalControl.EnableMic(ctx, offer)
}

// heldSource holds Open until release is closed
type heldSource struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	opened bool
	inner  *SilenceSource
}

func newHeldSource() *heldSource {
	return &heldSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		inner:   NewSilenceSource(),
	}
}

func (h *heldSource) Open(ctx context.Context) error {
	close(h.entered)
	<-h.release
	h.mu.Lock()
	h.opened = true
	h.mu.Unlock()
	return h.inner.Open(ctx)
}

func (h *heldSource) ReadSample(ctx context.Context) (media.Sample, error) {
	return h.inner.ReadSample(ctx)
}

func (h *heldSource) Close() error {
	h.mu.Lock()
	h.opened = false
	h.mu.Unlock()
	return h.inner.Close()
}

func (h *heldSource) isOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened
}

type screenFixture struct {
	syncer *broadcast.Synchronizer
	screen broadcast.Screen
	ctrl   *sig.LocalControl
}

func newScreenFixture(t *testing.T) *screenFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	syncer := broadcast.NewSynchronizer(mem, mem, mem, zap.NewNop())
	screen, err := syncer.CreateScreen(ctx, "grace", "Main")
	require.NoError(t, err)
	ctrl, err := sig.NewLocalControl(ctx, syncer, "grace", screen.ID)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	return &screenFixture{syncer: syncer, screen: screen, ctrl: ctrl}
}

func (f *screenFixture) mic(t *testing.T) broadcast.Mic {
	t.Helper()
	screen, err := f.syncer.GetScreen(context.Background(), "grace", f.screen.ID)
	require.NoError(t, err)
	return screen.Mic
}

func startEnable(c *Controller) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Enable(context.Background()) }()
	return done
}

func waitEnable(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("enable did not return")
		return nil
	}
}

func TestDisableWhileOfferInFlight(t *testing.T) {
	f := newScreenFixture(t)
	signaler := &heldSignaler{LocalControl: f.ctrl, entered: make(chan struct{}), release: make(chan struct{})}
	c, tr := newController(t, signaler, NewSilenceSource())

	done := startEnable(c)
	<-signaler.entered

	require.NoError(t, c.Disable(context.Background()))
	assert.Equal(t, Idle, c.State())

	// A second Enable waits for the first to unwind
	assert.ErrorIs(t, c.Enable(context.Background()), ErrBusy)

	close(signaler.release)
	assert.ErrorIs(t, waitEnable(t, done), ErrCanceled)

	assert.Equal(t, Idle, c.State())
	assert.Empty(t, c.Session())

	record := f.mic(t)
	assert.False(t, record.Enabled)
	assert.Nil(t, record.Offer)
	assert.Nil(t, record.Answer)
	assert.Empty(t, record.Session)
	assert.Empty(t, record.ICECandidate)

	states, _ := tr.snapshot()
	assert.Equal(t, Idle, states[len(states)-1])
	assert.NotContains(t, states, Offering)

	// The controller is usable again
	require.NoError(t, c.Enable(context.Background()))
	assert.Equal(t, Offering, c.State())
	assert.True(t, f.mic(t).Enabled)
}

func TestDisableWhileSourceOpening(t *testing.T) {
	f := newScreenFixture(t)
	src := newHeldSource()
	c, tr := newController(t, f.ctrl, src)

	done := startEnable(c)
	<-src.entered

	require.NoError(t, c.Disable(context.Background()))
	close(src.release)
	assert.ErrorIs(t, waitEnable(t, done), ErrCanceled)

	assert.Equal(t, Idle, c.State())
	assert.False(t, src.isOpen())
	assert.False(t, f.mic(t).Enabled)

	c.mu.Lock()
	assert.Nil(t, c.pc)
	c.mu.Unlock()

	states, _ := tr.snapshot()
	assert.Equal(t, []State{Requesting, Idle}, states)
}
