package media

import (
	"context"
	"errors"
	"sync"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
	callerr "tutorlink/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager implements ports.MediaDevices over a CaptureProvider.
type Manager struct {
	provider CaptureProvider
	logger   *zap.SugaredLogger

	mu            sync.RWMutex
	sources       map[string]ports.FrameSource
	onScreenEnded func()
}

var _ ports.MediaDevices = (*Manager)(nil)

func NewManager(provider CaptureProvider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		provider: provider,
		logger:   logger.Sugar(),
		sources:  make(map[string]ports.FrameSource),
	}
}

// OnScreenEnded registers the fallback hook fired when a screen capture
// ends outside our control.
func (m *Manager) OnScreenEnded(fn func()) {
	m.mu.Lock()
	m.onScreenEnded = fn
	m.mu.Unlock()
}

// Acquire captures camera/microphone tracks for the requested kinds.
// Returned tracks are verified live; a dead track fails the whole
// acquisition with a device-not-working classification.
func (m *Manager) Acquire(ctx context.Context, video, audio bool) (*domain.LocalMediaStream, error) {
	if !video && !audio {
		return domain.NewLocalMediaStream(uuid.NewString(), domain.SourceCamera), nil
	}

	captured, err := m.provider.Capture(ctx, video, audio)
	if err != nil {
		return nil, classify(err)
	}
	return m.buildStream(domain.SourceCamera, captured, false)
}

// AcquireScreen captures a screen-share stream. It is a distinct,
// swappable stream: acquiring it leaves any camera stream untouched.
func (m *Manager) AcquireScreen(ctx context.Context) (*domain.LocalMediaStream, error) {
	captured, err := m.provider.CaptureScreen(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return m.buildStream(domain.SourceScreen, captured, true)
}

// SourceFor returns the encoded frame source backing a track, nil when
// the provider has none.
func (m *Manager) SourceFor(trackID string) ports.FrameSource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sources[trackID]
}

func (m *Manager) buildStream(source domain.StreamSource, captured []CapturedTrack, screen bool) (*domain.LocalMediaStream, error) {
	for _, ct := range captured {
		if !ct.Live {
			// Some drivers grant permission but supply a dead track.
			releaseAll(captured)
			return nil, callerr.NewDeviceNotWorking()
		}
	}

	tracks := make([]*domain.Track, 0, len(captured))
	for _, ct := range captured {
		ct := ct
		id := uuid.NewString()

		track := domain.NewTrack(id, ct.Kind, func() {
			m.mu.Lock()
			if src := m.sources[id]; src != nil {
				src.Close()
			}
			delete(m.sources, id)
			m.mu.Unlock()
			if ct.Release != nil {
				ct.Release()
			}
		})

		if ct.Source != nil {
			m.mu.Lock()
			m.sources[id] = ct.Source
			m.mu.Unlock()
		}

		if ct.Ended != nil {
			go m.watchEnded(track, ct.Ended, screen)
		}

		tracks = append(tracks, track)
	}

	m.logger.Infow("media acquired", "source", source, "tracks", len(tracks))
	return domain.NewLocalMediaStream(uuid.NewString(), source, tracks...), nil
}

func (m *Manager) watchEnded(track *domain.Track, ended <-chan struct{}, screen bool) {
	<-ended
	if track.ReadyState() == domain.TrackStateEnded {
		return
	}
	track.MarkEnded()
	m.logger.Infow("capture track ended by device", "track", track.ID, "kind", track.Kind)

	if screen && track.Kind == domain.TrackKindVideo {
		m.mu.RLock()
		fn := m.onScreenEnded
		m.mu.RUnlock()
		if fn != nil {
			fn()
		}
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return callerr.NewPermissionDenied()
	case errors.Is(err, ErrNoDevice):
		return callerr.NewDeviceNotFound()
	case errors.Is(err, ErrDeviceDead):
		return callerr.NewDeviceNotWorking()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return callerr.Wrap(err, callerr.CodeUnknown, "media capture failed")
	}
}

func releaseAll(captured []CapturedTrack) {
	for _, ct := range captured {
		if ct.Release != nil {
			ct.Release()
		}
	}
}
