//go:build !linux || !cgo

package media

import (
	"context"

	"go.uber.org/zap"
)

// DeviceProvider on non-Linux platforms has no capture backend; every
// acquisition reports no device, which the session degrades around.
type DeviceProvider struct{}

var _ CaptureProvider = (*DeviceProvider)(nil)

func NewDeviceProvider(_ *zap.Logger) (*DeviceProvider, error) {
	return &DeviceProvider{}, nil
}

func (p *DeviceProvider) Capture(ctx context.Context, video, audio bool) ([]CapturedTrack, error) {
	return nil, ErrNoDevice
}

func (p *DeviceProvider) CaptureScreen(ctx context.Context) ([]CapturedTrack, error) {
	return nil, ErrNoDevice
}
