package media

import (
	"context"
	"testing"
	"time"

	"tutorlink/internal/core/domain"
	callerr "tutorlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireTracksMatchRequest(t *testing.T) {
	cases := []struct {
		name         string
		video, audio bool
	}{
		{"video and audio", true, true},
		{"video only", true, false},
		{"audio only", false, true},
		{"nothing", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(NewFakeProvider(), nil)

			stream, err := m.Acquire(context.Background(), tc.video, tc.audio)
			require.NoError(t, err)

			assert.Equal(t, tc.video, stream.VideoTrack() != nil)
			assert.Equal(t, tc.audio, stream.AudioTrack() != nil)
			for _, track := range stream.Tracks() {
				assert.True(t, track.Enabled())
				assert.Equal(t, domain.TrackStateLive, track.ReadyState())
			}
		})
	}
}

func TestAcquireClassifiesProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		fail error
		want callerr.Code
	}{
		{"permission denied", ErrPermissionDenied, callerr.CodePermissionDenied},
		{"no device", ErrNoDevice, callerr.CodeDeviceNotFound},
		{"dead device", ErrDeviceDead, callerr.CodeDeviceNotWorking},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := NewFakeProvider()
			provider.FailWith = tc.fail
			m := NewManager(provider, nil)

			_, err := m.Acquire(context.Background(), true, true)
			require.Error(t, err)
			assert.Equal(t, tc.want, callerr.CodeOf(err))
		})
	}
}

func TestAcquireRejectsDeadTracks(t *testing.T) {
	provider := NewFakeProvider()
	provider.DeadKinds = map[domain.TrackKind]bool{domain.TrackKindVideo: true}
	m := NewManager(provider, nil)

	_, err := m.Acquire(context.Background(), true, true)
	require.Error(t, err)
	assert.Equal(t, callerr.CodeDeviceNotWorking, callerr.CodeOf(err))

	// Both granted tracks were released, not just the dead one.
	assert.Equal(t, 2, provider.Released())
}

func TestToggleNeverStopsTracks(t *testing.T) {
	provider := NewFakeProvider()
	m := NewManager(provider, nil)

	stream, err := m.Acquire(context.Background(), true, true)
	require.NoError(t, err)

	audio := stream.AudioTrack()
	for i := 0; i < 5; i++ {
		audio.SetEnabled(false)
		audio.SetEnabled(true)
	}
	audio.SetEnabled(false)

	assert.Equal(t, 2, stream.LiveTrackCount())
	assert.Equal(t, 0, provider.Released())
	assert.False(t, audio.Enabled())
	assert.Equal(t, domain.TrackStateLive, audio.ReadyState())
}

func TestStopReleasesDeviceOnce(t *testing.T) {
	provider := NewFakeProvider()
	m := NewManager(provider, nil)

	stream, err := m.Acquire(context.Background(), true, false)
	require.NoError(t, err)

	stream.StopAll()
	stream.StopAll()

	assert.Equal(t, 1, provider.Released())
	assert.Equal(t, 0, stream.LiveTrackCount())
}

func TestScreenShareEndFiresFallbackHook(t *testing.T) {
	provider := NewFakeProvider()
	m := NewManager(provider, nil)

	fired := make(chan struct{})
	m.OnScreenEnded(func() { close(fired) })

	screen, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	require.NotNil(t, screen.VideoTrack())
	assert.Equal(t, domain.SourceScreen, screen.Source)

	provider.EndScreenShare()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("screen end hook never fired")
	}
	assert.Equal(t, domain.TrackStateEnded, screen.VideoTrack().ReadyState())
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	provider := NewFakeProvider()
	provider.Delay = make(chan struct{})
	m := NewManager(provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, true, true)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe cancellation")
	}
}
