//go:build !cgo

package mic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceSourceWithoutCgo(t *testing.T) {
	src := NewDeviceSource(DefaultBitrate)
	assert.ErrorIs(t, src.Open(context.Background()), ErrNoDevice)
	assert.NoError(t, src.Close())
}
