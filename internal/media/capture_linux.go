//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"strings"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// DeviceProvider captures real camera/microphone/screen media through
// pion/mediadevices (V4L2 + malgo + X11 on Linux), yielding VP8/Opus
// encoded frames.
type DeviceProvider struct {
	selector *mediadevices.CodecSelector
	logger   *zap.SugaredLogger
}

var _ CaptureProvider = (*DeviceProvider)(nil)

func NewDeviceProvider(logger *zap.Logger) (*DeviceProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("creating VP8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("creating Opus params: %w", err)
	}

	return &DeviceProvider{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: logger.Sugar(),
	}, nil
}

func (p *DeviceProvider) Capture(ctx context.Context, video, audio bool) ([]CapturedTrack, error) {
	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, ErrNoDevice
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG: some cameras expose an MJPEG node that
			// produces malformed frames and poisons the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}
	if audio {
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, p.mapError(err)
	}
	return p.wrap(stream)
}

func (p *DeviceProvider) CaptureScreen(ctx context.Context) ([]CapturedTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: p.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	}

	stream, err := mediadevices.GetDisplayMedia(constraints)
	if err != nil {
		return nil, p.mapError(err)
	}
	return p.wrap(stream)
}

func (p *DeviceProvider) wrap(stream mediadevices.MediaStream) ([]CapturedTrack, error) {
	var out []CapturedTrack

	for _, track := range stream.GetVideoTracks() {
		out = append(out, p.wrapTrack(track, domain.TrackKindVideo, webrtc.MimeTypeVP8))
	}
	for _, track := range stream.GetAudioTracks() {
		out = append(out, p.wrapTrack(track, domain.TrackKindAudio, webrtc.MimeTypeOpus))
	}
	return out, nil
}

func (p *DeviceProvider) wrapTrack(track mediadevices.Track, kind domain.TrackKind, mime string) CapturedTrack {
	ended := make(chan struct{})
	track.OnEnded(func(err error) {
		if err != nil {
			p.logger.Warnw("capture track ended", "kind", kind, "error", err)
		}
		close(ended)
	})

	var source ports.FrameSource
	live := true
	reader, err := track.NewEncodedReader(mime)
	if err != nil {
		// Broken encoder means a granted-but-dead device.
		p.logger.Warnw("encoded reader unavailable", "kind", kind, "error", err)
		live = false
	} else {
		source = &encodedSource{reader: reader}
	}

	return CapturedTrack{
		Kind:    kind,
		Live:    live,
		Source:  source,
		Release: func() { track.Close() },
		Ended:   ended,
	}
}

func (p *DeviceProvider) mapError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %s", ErrNoDevice, err)
	default:
		return err
	}
}

// encodedSource adapts a mediadevices encoded reader to ports.FrameSource.
type encodedSource struct {
	reader mediadevices.EncodedReadCloser
}

func (s *encodedSource) ReadFrame() ([]byte, func(), error) {
	buf, release, err := s.reader.Read()
	if err != nil {
		return nil, nil, err
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return data, release, nil
}

func (s *encodedSource) Close() error { return s.reader.Close() }
