package media

import (
	"context"
	"sync"

	"tutorlink/internal/core/domain"
)

// FakeProvider is an in-memory capture backend for tests and local
// development without devices. It records every Release call and lets
// tests end a "screen share" externally.
type FakeProvider struct {
	mu sync.Mutex

	// FailWith, when set, is returned by every capture call.
	FailWith error
	// DeadKinds marks kinds that come back granted but not live.
	DeadKinds map[domain.TrackKind]bool
	// Delay, when set, makes capture wait for ctx or the delay channel.
	Delay chan struct{}

	released    int
	screenEnded []chan struct{}
}

var _ CaptureProvider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

func (p *FakeProvider) Capture(ctx context.Context, video, audio bool) ([]CapturedTrack, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return nil, p.FailWith
	}

	var out []CapturedTrack
	if video {
		out = append(out, p.track(domain.TrackKindVideo, false))
	}
	if audio {
		out = append(out, p.track(domain.TrackKindAudio, false))
	}
	return out, nil
}

func (p *FakeProvider) CaptureScreen(ctx context.Context) ([]CapturedTrack, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return nil, p.FailWith
	}
	return []CapturedTrack{p.track(domain.TrackKindVideo, true)}, nil
}

// EndScreenShare simulates the user stopping a screen capture from the
// OS UI.
func (p *FakeProvider) EndScreenShare() {
	p.mu.Lock()
	chans := p.screenEnded
	p.screenEnded = nil
	p.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

// Released reports how many tracks have had their device released.
func (p *FakeProvider) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *FakeProvider) track(kind domain.TrackKind, screen bool) CapturedTrack {
	live := true
	if p.DeadKinds[kind] {
		live = false
	}

	ct := CapturedTrack{
		Kind: kind,
		Live: live,
		Release: func() {
			p.mu.Lock()
			p.released++
			p.mu.Unlock()
		},
	}
	if screen {
		ended := make(chan struct{})
		p.screenEnded = append(p.screenEnded, ended)
		ct.Ended = ended
	}
	return ct
}

func (p *FakeProvider) wait(ctx context.Context) error {
	p.mu.Lock()
	delay := p.Delay
	p.mu.Unlock()
	if delay == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-delay:
		return nil
	}
}
