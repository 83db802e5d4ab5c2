package scanner

import (
	"context"
	"errors"
)

const (
	KindVideoInput = "videoinput"
	KindAudioInput = "audioinput"

	FacingEnvironment = "environment"
)

var (
	ErrUnsupportedEnvironment = errors.New("scanner: no camera available")
	ErrCameraAcquisition      = errors.New("scanner: camera acquisition failed")
)

type Device struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}

// Constraint asks the platform for either a specific device or a
// facing mode. Exactly one field is set.
type Constraint struct {
	DeviceID   string `json:"device_id,omitempty"`
	FacingMode string `json:"facing_mode,omitempty"`
}

// Surface is the render target a stream draws its preview on.
type Surface struct {
	Name   string
	Width  int
	Height int
}

// CaptureConfig carries the decode loop tuning passed to the platform.
type CaptureConfig struct {
	FPS         int
	BoxWidth    int
	BoxHeight   int
	AspectRatio float64
	DisableFlip bool
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{FPS: 15, BoxWidth: 250, BoxHeight: 250, AspectRatio: 1.0}
}

// Platform is the host camera capability.
type Platform interface {
	EnumerateDevices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, surface Surface, constraint Constraint, cfg CaptureConfig) (Stream, error)
}

// Stream is an acquired camera delivering decoded QR text. Frames is
// closed when the stream ends on its own.
type Stream interface {
	Frames() <-chan string
	Errors() <-chan error
	Close() error
}

// SelectDevice picks the camera to open. With several video inputs the
// last one enumerated is taken, since most phones list the rear camera
// last; enumeration order is not guaranteed, so this is a heuristic.
// A single camera is requested by environment facing mode instead.
func SelectDevice(devices []Device) (Constraint, error) {
	var cameras []Device
	for _, d := range devices {
		if d.Kind == KindVideoInput {
			cameras = append(cameras, d)
		}
	}

	switch {
	case len(cameras) == 0:
		return Constraint{}, ErrUnsupportedEnvironment
	case len(cameras) > 1 && cameras[len(cameras)-1].ID != "":
		return Constraint{DeviceID: cameras[len(cameras)-1].ID}, nil
	default:
		return Constraint{FacingMode: FacingEnvironment}, nil
	}
}
