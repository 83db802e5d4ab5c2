package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrNoActiveStream = errors.New("scanner: no active camera stream")
	ErrDeviceBusy     = errors.New("scanner: camera already in use")
)

// FeedPlatform is a camera platform whose frames are decoded elsewhere,
// typically by the attendant's browser, and pushed in as text. It holds
// at most one open stream, like a physical camera.
type FeedPlatform struct {
	devices []Device

	mu     sync.Mutex
	active *feedStream
}

func NewFeedPlatform(deviceIDs []string) *FeedPlatform {
	p := &FeedPlatform{}
	for _, id := range deviceIDs {
		p.devices = append(p.devices, Device{ID: id, Kind: KindVideoInput, Label: id})
	}
	return p
}

func (p *FeedPlatform) EnumerateDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(p.devices), nil
}

func (p *FeedPlatform) Open(ctx context.Context, surface Surface, constraint Constraint, cfg CaptureConfig) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constraint.DeviceID != "" && !slices.ContainsFunc(p.devices, func(d Device) bool { return d.ID == constraint.DeviceID }) {
		return nil, fmt.Errorf("device %q not found", constraint.DeviceID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrDeviceBusy
	}

	s := &feedStream{
		platform: p,
		frames:   make(chan string, 16),
		errs:     make(chan error, 4),
		done:     make(chan struct{}),
	}
	p.active = s
	return s, nil
}

// Push delivers one decoded frame to the open stream, waiting for room
// in its buffer.
func (p *FeedPlatform) Push(ctx context.Context, text string) error {
	s := p.current()
	if s == nil {
		return ErrNoActiveStream
	}
	select {
	case s.frames <- text:
		return nil
	case <-s.done:
		return ErrNoActiveStream
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushError reports a capture error; it is dropped when the stream's
// error buffer is full.
func (p *FeedPlatform) PushError(err error) {
	s := p.current()
	if s == nil {
		return
	}
	select {
	case s.errs <- err:
	default:
	}
}

func (p *FeedPlatform) Active() bool {
	return p.current() != nil
}

func (p *FeedPlatform) current() *feedStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

type feedStream struct {
	platform *FeedPlatform
	frames   chan string
	errs     chan error
	done     chan struct{}
	once     sync.Once
}

func (s *feedStream) Frames() <-chan string { return s.frames }
func (s *feedStream) Errors() <-chan error  { return s.errs }

func (s *feedStream) Close() error {
	s.once.Do(func() {
		s.platform.mu.Lock()
		if s.platform.active == s {
			s.platform.active = nil
		}
		s.platform.mu.Unlock()
		close(s.done)
	})
	return nil
}
