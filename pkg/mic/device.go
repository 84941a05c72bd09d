//go:build cgo

package mic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // malgo capture driver
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// opusClockRate is the RTP clock of every Opus stream
const opusClockRate = 48000

// DeviceSource captures the default microphone and encodes it to Opus
type DeviceSource struct {
	bitrate int

	mu     sync.Mutex
	track  mediadevices.Track
	reader mediadevices.EncodedReadCloser
}

// NewDeviceSource creates a closed source for the default capture device.
// A bitrate of zero keeps the encoder default.
func NewDeviceSource(bitrate int) *DeviceSource {
	return &DeviceSource{bitrate: bitrate}
}

func (d *DeviceSource) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params, err := opus.NewParams()
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if d.bitrate > 0 {
		params.BitRate = d.bitrate
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&params)),
	})
	if err != nil {
		return captureError(err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return ErrNoDevice
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}

	reader, err := tracks[0].NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		tracks[0].Close()
		return fmt.Errorf("opus reader: %w", err)
	}
	d.track = tracks[0]
	d.reader = reader
	return nil
}

func (d *DeviceSource) ReadSample(ctx context.Context) (media.Sample, error) {
	d.mu.Lock()
	reader := d.reader
	d.mu.Unlock()
	if reader == nil {
		return media.Sample{}, errors.New("microphone is closed")
	}

	// Read paces itself on the capture clock; Close unblocks it.
	buf, release, err := reader.Read()
	if err != nil {
		return media.Sample{}, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	release()

	if err := ctx.Err(); err != nil {
		return media.Sample{}, err
	}
	return media.Sample{
		Data:     data,
		Duration: time.Duration(buf.Samples) * time.Second / opusClockRate,
	}, nil
}

func (d *DeviceSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.reader != nil {
		err = d.reader.Close()
		d.reader = nil
	}
	if d.track != nil {
		if cerr := d.track.Close(); err == nil {
			err = cerr
		}
		d.track = nil
	}
	return err
}

// captureError sorts a GetUserMedia failure into the package's sentinels
func captureError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrNoDevice, err)
}
