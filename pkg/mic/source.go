package mic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

var (
	// ErrPermissionDenied is returned by Open when the capture device refuses access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNoDevice is returned by Open when there is nothing to capture from
	ErrNoDevice = errors.New("no microphone found")
)

// DefaultBitrate is the Opus target for captured speech
const DefaultBitrate = 64000

// AudioSource produces Opus-encoded samples for the microphone track
type AudioSource interface {
	// Open acquires the capture device
	Open(ctx context.Context) error
	// ReadSample blocks until the next sample is ready or ctx is done
	ReadSample(ctx context.Context) (media.Sample, error)
	// Close releases the device. Safe to call more than once.
	Close() error
}

// frameDuration is the Opus packet length used by SilenceSource
const frameDuration = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame of digital silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource emits Opus silence at real-time pace. It stands in for
// the microphone on hosts with no capture device.
type SilenceSource struct {
	mu     sync.Mutex
	ticker *time.Ticker
}

// NewSilenceSource creates a closed silence source
func NewSilenceSource() *SilenceSource {
	return &SilenceSource{}
}

func (s *SilenceSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		s.ticker = time.NewTicker(frameDuration)
	}
	return nil
}

func (s *SilenceSource) ReadSample(ctx context.Context) (media.Sample, error) {
	s.mu.Lock()
	ticker := s.ticker
	s.mu.Unlock()
	if ticker == nil {
		return media.Sample{}, errors.New("silence source is closed")
	}

	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case <-ticker.C:
		return media.Sample{Data: opusSilence, Duration: frameDuration}, nil
	}
}

func (s *SilenceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	return nil
}

// FallbackSource reads from primary, switching to fallback when Open finds
// no capture device. Any other Open error is returned as is.
type FallbackSource struct {
	primary  AudioSource
	fallback AudioSource
	logger   *zap.Logger

	mu     sync.Mutex
	active AudioSource
}

// NewFallbackSource creates a closed source over primary and fallback
func NewFallbackSource(primary, fallback AudioSource, logger *zap.Logger) *FallbackSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSource{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackSource) Open(ctx context.Context) error {
	source := f.primary
	err := f.primary.Open(ctx)
	if errors.Is(err, ErrNoDevice) {
		f.logger.Warn("no microphone, sending silence", zap.Error(err))
		f.primary.Close()
		source = f.fallback
		err = f.fallback.Open(ctx)
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.active = source
	f.mu.Unlock()
	return nil
}

// Fallback reports whether the last Open settled on the fallback source
func (f *FallbackSource) Fallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active != nil && f.active == f.fallback
}

func (f *FallbackSource) ReadSample(ctx context.Context) (media.Sample, error) {
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if active == nil {
		return media.Sample{}, errors.New("audio source is closed")
	}
	return active.ReadSample(ctx)
}

// Close releases both sources so a Close racing Open still frees the device
func (f *FallbackSource) Close() error {
	f.mu.Lock()
	f.active = nil
	f.mu.Unlock()

	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
