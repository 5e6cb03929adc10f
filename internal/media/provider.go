// Package media wraps local capture (camera, microphone, screen) with
// permission-aware error classification and live-track verification.
package media

import (
	"context"
	"errors"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
)

// Sentinel errors a CaptureProvider reports. The manager classifies
// them into the user-facing taxonomy.
var (
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrNoDevice         = errors.New("no capture device found")
	ErrDeviceDead       = errors.New("capture device produced a dead track")
)

// CapturedTrack is one raw track handed back by a provider. Live is
// reported by the driver; a granted-but-dead track is an acquisition
// failure, not a success. Ended, when non-nil, closes if the device
// stops on its own (a user ending a screen share from the OS UI).
type CapturedTrack struct {
	Kind    domain.TrackKind
	Live    bool
	Source  ports.FrameSource
	Release func()
	Ended   <-chan struct{}
}

// CaptureProvider abstracts the platform capture backend.
type CaptureProvider interface {
	Capture(ctx context.Context, video, audio bool) ([]CapturedTrack, error)
	CaptureScreen(ctx context.Context) ([]CapturedTrack, error)
}
