//go:build !cgo

package mic

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v3/pkg/media"
)

// DeviceSource needs cgo for the capture driver. Without it every Open
// reports ErrNoDevice.
type DeviceSource struct{}

func NewDeviceSource(bitrate int) *DeviceSource {
	return &DeviceSource{}
}

func (d *DeviceSource) Open(ctx context.Context) error {
	return ErrNoDevice
}

func (d *DeviceSource) ReadSample(ctx context.Context) (media.Sample, error) {
	return media.Sample{}, errors.New("microphone is closed")
}

func (d *DeviceSource) Close() error {
	return nil
}
