package mic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// State is the microphone lifecycle on the control side
type State int

const (
	Idle State = iota
	Requesting
	Offering
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Offering:
		return "offering"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrBusy             = errors.New("microphone already active")
	ErrConnectionFailed = errors.New("microphone connection failed")
	ErrCanceled         = errors.New("microphone disabled while starting")
)

// signalTimeout bounds each signaling write made from pion callbacks
const signalTimeout = 5 * time.Second

// Signaler writes the control side of the mic handshake. signal.Controller
// satisfies it.
type Signaler interface {
	EnableMic(ctx context.Context, offer broadcast.SessionDescription) (string, error)
	PublishCandidate(ctx context.Context, session, candidate string) error
	DisableMic(ctx context.Context) error
}

// Options configures a Controller
type Options struct {
	ICE    ICEConfig
	Logger *zap.Logger
}

// Controller owns the microphone peer connection and audio source for one
// screen. It offers, trickles candidates through the Signaler and applies
// the viewer's answer once it shows up on the screen record.
type Controller struct {
	signaler Signaler
	source   AudioSource
	config   webrtc.Configuration
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on every teardown
	starting bool   // an Enable call has not returned yet
	session  string
	pc       *webrtc.PeerConnection
	stopPump context.CancelFunc
	pending  []string // candidates gathered before the session id is known

	onState func(State, error)
}

// NewController creates an idle controller
func NewController(signaler Signaler, source AudioSource, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		signaler: signaler,
		source:   source,
		config:   opts.ICE.Configuration(),
		logger:   logger,
	}
}

// OnStateChange registers a callback for every transition. err is set when
// the transition back to Idle was caused by a failure.
func (c *Controller) OnStateChange(fn func(State, error)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active mic session, empty when idle or requesting
func (c *Controller) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// setState must be called with c.mu held; it returns the notifier to run
// after unlocking
func (c *Controller) setState(s State, err error) func() {
	c.state = s
	fn := c.onState
	return func() {
		if fn != nil {
			fn(s, err)
		}
	}
}

// Enable opens the audio source, creates the peer connection and writes
// the offer. It returns once the controller is Offering. A Disable that
// lands while Enable is in flight wins: Enable tears down what it built,
// clears any offer it wrote and returns ErrCanceled.
func (c *Controller) Enable(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle || c.starting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.starting = true
	gen := c.gen
	notify := c.setState(Requesting, nil)
	c.mu.Unlock()
	notify()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	if err := c.source.Open(ctx); err != nil {
		c.source.Close()
		return c.abort(gen, fmt.Errorf("open audio source: %w", err))
	}

	pc, track, err := c.newPeer()
	if err != nil {
		c.source.Close()
		return c.abort(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		pc.Close()
		c.source.Close()
		return ErrCanceled
	}
	c.pc = pc
	c.pending = nil
	c.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		c.source.Close()
		return c.abort(gen, fmt.Errorf("failed to create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		c.source.Close()
		return c.abort(gen, fmt.Errorf("failed to set local description: %w", err))
	}

	session, err := c.signaler.EnableMic(ctx, broadcast.SessionDescription{Type: "offer", SDP: offer.SDP})
	if err != nil {
		pc.Close()
		c.source.Close()
		return c.abort(gen, fmt.Errorf("write offer: %w", err))
	}

	pumpCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.gen != gen {
		// Disabled or failed while the offer was in flight; the offer
		// landed after the clear, so clear again
		c.mu.Unlock()
		stop()
		pc.Close()
		c.source.Close()
		c.clearRecord("undo offer")
		return ErrCanceled
	}
	c.session = session
	c.stopPump = stop
	pending := c.pending
	c.pending = nil
	notify = c.setState(Offering, nil)
	c.mu.Unlock()
	notify()

	go c.pump(pumpCtx, track)
	for _, cand := range pending {
		c.publishCandidate(session, cand)
	}

	c.logger.Info("mic offering", zap.String("session", session))
	return nil
}

// newPeer creates the connection with one Opus track and registers the
// candidate and state callbacks. Callbacks ignore the connection until
// Enable installs it as c.pc.
func (c *Controller) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(c.config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"projector-mic",
	)
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("failed to add audio track: %w", err)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		data, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.pc != pc {
			c.mu.Unlock()
			return
		}
		session := c.session
		if session == "" {
			c.pending = append(c.pending, string(data))
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.publishCandidate(session, string(data))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.handleConnectionState(pc, state)
	})

	return pc, track, nil
}

func (c *Controller) publishCandidate(session, candidate string) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := c.signaler.PublishCandidate(ctx, session, candidate); err != nil {
		c.logger.Warn("publish candidate failed", zap.String("session", session), zap.Error(err))
	}
}

func (c *Controller) handleConnectionState(pc *webrtc.PeerConnection, state webrtc.PeerConnectionState) {
	c.logger.Debug("mic connection state", zap.String("state", state.String()))
	if state != webrtc.PeerConnectionStateFailed {
		return
	}

	c.mu.Lock()
	if c.pc != pc {
		c.mu.Unlock()
		return
	}
	stop := c.release()
	notify := c.setState(Idle, ErrConnectionFailed)
	c.mu.Unlock()

	stop()
	notify()

	c.clearRecord("disable after failure")
	c.logger.Warn("mic connection failed")
}

// clearRecord clears the mic fields on the screen outside any caller context
func (c *Controller) clearRecord(op string) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()
	if err := c.signaler.DisableMic(ctx); err != nil {
		c.logger.Warn(op, zap.Error(err))
	}
}

// Observe feeds the latest mic record from the screen. The viewer's answer
// is applied once, when it belongs to this session and no remote
// description is set yet.
func (c *Controller) Observe(m broadcast.Mic) error {
	c.mu.Lock()
	pc := c.pc
	if c.state != Offering || pc == nil || !m.Enabled || m.Session != c.session || m.Answer == nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if pc.RemoteDescription() != nil {
		return nil
	}
	err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  m.Answer.SDP,
	})
	if err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}

	c.mu.Lock()
	if c.pc != pc || c.state != Offering {
		c.mu.Unlock()
		return nil
	}
	notify := c.setState(Connected, nil)
	c.mu.Unlock()
	notify()

	c.logger.Info("mic answer applied", zap.String("session", m.Session))
	return nil
}

// Disable tears down the connection and source from any state and clears
// the mic on the screen
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	stop := c.release()
	notify := c.setState(Idle, nil)
	c.mu.Unlock()

	stop()
	notify()
	return c.signaler.DisableMic(ctx)
}

// Close releases local resources without touching the screen record
func (c *Controller) Close() {
	c.mu.Lock()
	stop := c.release()
	c.state = Idle
	c.mu.Unlock()
	stop()
}

// release detaches the current connection and invalidates any Enable in
// flight. Must be called with c.mu held; the returned func does the
// blocking cleanup.
func (c *Controller) release() func() {
	c.gen++
	pc := c.pc
	stopPump := c.stopPump
	c.pc = nil
	c.stopPump = nil
	c.session = ""
	c.pending = nil
	return func() {
		if stopPump != nil {
			stopPump()
		}
		if pc != nil {
			if err := pc.Close(); err != nil {
				c.logger.Debug("close peer connection", zap.Error(err))
			}
		}
		c.source.Close()
	}
}

// abort returns to Idle after a failed Enable. When a teardown already
// ran since gen, the controller is Idle and ErrCanceled is reported.
func (c *Controller) abort(gen uint64, err error) error {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("mic enable canceled", zap.Error(err))
		return ErrCanceled
	}
	c.gen++
	c.pc = nil
	c.session = ""
	c.pending = nil
	notify := c.setState(Idle, err)
	c.mu.Unlock()
	notify()
	c.logger.Warn("mic enable failed", zap.Error(err))
	return err
}

// pump copies samples from the source to the track until ctx is done
func (c *Controller) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	for {
		sample, err := c.source.ReadSample(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("audio source stopped", zap.Error(err))
			}
			return
		}
		if err := track.WriteSample(sample); err != nil {
			c.logger.Debug("write sample", zap.Error(err))
		}
	}
}
