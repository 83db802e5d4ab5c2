// Package scanner drives a camera through one QR scanning session at a
// time and emits the first valid wallet payload it decodes.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"station-svc/middleware"
	"station-svc/models"
	"station-svc/qrpayload"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type State int

const (
	StateIdle State = iota
	StateInitializing
	StateScanning
	StateSuccess
	StateError
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateScanning:
		return "scanning"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrSessionActive  = errors.New("scanner: session already active")
	ErrSessionStopped = errors.New("scanner: session stopped")
)

type Option func(*Controller)

func WithCaptureConfig(cfg CaptureConfig) Option {
	return func(c *Controller) { c.capture = cfg }
}

// OnScan registers the receiver of decoded payloads. It is called once
// per successful session, from the session goroutine.
func OnScan(fn func(models.Payload)) Option {
	return func(c *Controller) { c.onScan = fn }
}

// OnInvalidFrame registers a notice hook for frames that fail decoding.
// It runs inline in the decode loop and must not block.
func OnInvalidFrame(fn func(text string, err error)) Option {
	return func(c *Controller) { c.onInvalid = fn }
}

// OnError registers the receiver of camera acquisition failures.
func OnError(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

type Controller struct {
	platform Platform
	surface  Surface
	capture  CaptureConfig
	logger   *zap.Logger

	onScan    func(models.Payload)
	onInvalid func(string, error)
	onError   func(error)

	mu      sync.Mutex
	state   State
	session *session
}

type session struct {
	id         string
	constraint Constraint
	stream     Stream
	done       chan struct{}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State       `json:"state"`
	SessionID  string      `json:"session_id,omitempty"`
	Constraint *Constraint `json:"constraint,omitempty"`
}

// NewController returns an idle controller. A nil platform means the
// host exposes no camera and every Start fails.
func NewController(platform Platform, surface Surface, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		platform: platform,
		surface:  surface,
		capture:  DefaultCaptureConfig(),
		logger:   logger,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state}
	if c.session != nil {
		st.SessionID = c.session.id
		if c.state == StateScanning {
			constraint := c.session.constraint
			st.Constraint = &constraint
		}
	}
	return st
}

// Start opens a new session and acquires the camera for it. It returns
// once the decode loop is running or the attempt has failed.
func (c *Controller) Start(ctx context.Context) error {
	if c.platform == nil {
		return fmt.Errorf("%w: camera capability not exposed", ErrUnsupportedEnvironment)
	}

	ctx, span := otel.Tracer("station-service").Start(ctx, "ScannerStart")
	defer span.End()

	c.mu.Lock()
	if c.state != StateIdle && c.state != StateStopped {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("Scanner start rejected", zap.Stringer("state", state))
		return ErrSessionActive
	}
	prior := c.state
	prev, leftover := c.detach()
	sess := &session{id: uuid.NewString(), done: make(chan struct{})}
	c.session = sess
	c.state = StateInitializing
	c.mu.Unlock()

	if prev != nil {
		c.closeStream(prev.id, leftover)
	}

	span.SetAttributes(attribute.String("scanner.session_id", sess.id))
	c.logger.Info("Starting scanner",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("session_id", sess.id),
	)

	devices, err := c.platform.EnumerateDevices(ctx)
	if err != nil {
		span.RecordError(err)
		return c.fail(sess, fmt.Errorf("%w: enumerate devices: %v", ErrCameraAcquisition, err))
	}

	constraint, err := SelectDevice(devices)
	if err != nil {
		c.mu.Lock()
		if c.session == sess {
			c.session = nil
			c.state = prior
		}
		c.mu.Unlock()
		middleware.RecordScannerSession("unsupported")
		c.logger.Warn("No camera device available", zap.String("session_id", sess.id), zap.Int("devices", len(devices)))
		return err
	}

	span.SetAttributes(
		attribute.String("scanner.device_id", constraint.DeviceID),
		attribute.String("scanner.facing_mode", constraint.FacingMode),
	)

	stream, err := c.platform.Open(ctx, c.surface, constraint, c.capture)
	if err != nil {
		span.RecordError(err)
		return c.fail(sess, fmt.Errorf("%w: %v", ErrCameraAcquisition, err))
	}

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		c.closeStream(sess.id, stream)
		return ErrSessionStopped
	}
	sess.constraint = constraint
	sess.stream = stream
	c.state = StateScanning
	c.mu.Unlock()

	c.logger.Info("Camera started",
		zap.String("session_id", sess.id),
		zap.String("device_id", constraint.DeviceID),
		zap.String("facing_mode", constraint.FacingMode),
	)

	go c.run(sess, stream)
	return nil
}

// Stop ends the current session and releases its camera. Calling it
// with no session is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	sess, stream := c.detach()
	switch c.state {
	case StateInitializing, StateScanning:
		c.state = StateStopped
	case StateSuccess, StateError:
		c.state = StateIdle
	}
	c.mu.Unlock()

	if sess == nil {
		return
	}
	c.closeStream(sess.id, stream)
	middleware.RecordScannerSession("stopped")
	c.logger.Info("Scanner stopped", zap.String("session_id", sess.id))
}

// Close releases any held camera. It is safe to call on teardown paths.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// detach unlinks the current session and hands its stream to the
// caller, who becomes responsible for closing it. Requires c.mu.
func (c *Controller) detach() (*session, Stream) {
	sess := c.session
	if sess == nil {
		return nil, nil
	}
	c.session = nil
	stream := sess.stream
	sess.stream = nil
	close(sess.done)
	return sess, stream
}

// closeStream releases a camera. A failed close is logged and the
// camera is still treated as released.
func (c *Controller) closeStream(sessionID string, stream Stream) {
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		c.logger.Warn("Failed to stop camera", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (c *Controller) fail(sess *session, err error) error {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return err
	}
	_, stream := c.detach()
	c.state = StateError
	c.mu.Unlock()

	c.closeStream(sess.id, stream)
	middleware.RecordScannerSession("camera_error")
	c.logger.Error("Error starting camera", zap.String("session_id", sess.id), zap.Error(err))

	if c.onError != nil {
		c.onError(err)
	}

	c.mu.Lock()
	if c.state == StateError {
		c.state = StateIdle
	}
	c.mu.Unlock()
	return err
}

func (c *Controller) run(sess *session, stream Stream) {
	frames := stream.Frames()
	errs := stream.Errors()

	for {
		select {
		case <-sess.done:
			return
		case text, ok := <-frames:
			if !ok {
				c.streamEnded(sess)
				return
			}
			if c.handleFrame(sess, text) {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Debug("QR scan error", zap.String("session_id", sess.id), zap.Error(err))
		}
	}
}

// handleFrame reports whether the session is over.
func (c *Controller) handleFrame(sess *session, text string) bool {
	select {
	case <-sess.done:
		return true
	default:
	}

	payload, err := qrpayload.Decode(text)
	if err != nil {
		middleware.RecordScan("invalid")
		c.logger.Debug("Invalid QR code data", zap.String("session_id", sess.id), zap.Error(err))
		if c.onInvalid != nil {
			c.onInvalid(text, err)
		}
		return false
	}
	middleware.RecordScan("valid")

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return true
	}
	_, stream := c.detach()
	c.state = StateSuccess
	c.mu.Unlock()

	c.closeStream(sess.id, stream)
	middleware.RecordScannerSession("success")
	c.logger.Info("QR code detected",
		zap.String("session_id", sess.id),
		zap.String("user_id", payload.UserID),
		zap.String("wallet_id", payload.WalletID),
	)

	if c.onScan != nil {
		c.onScan(payload)
	}

	c.mu.Lock()
	if c.state == StateSuccess {
		c.state = StateIdle
	}
	c.mu.Unlock()
	return true
}

func (c *Controller) streamEnded(sess *session) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	_, stream := c.detach()
	c.state = StateIdle
	c.mu.Unlock()

	c.closeStream(sess.id, stream)
	middleware.RecordScannerSession("ended")
	c.logger.Warn("Camera stream ended", zap.String("session_id", sess.id))
}
