package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"station-svc/models"
	"station-svc/qrpayload"
	"station-svc/scanner"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ScanResult is the last payload handed to the attendant flow.
type ScanResult struct {
	Payload   models.Payload `json:"payload"`
	ScannedAt time.Time      `json:"scanned_at"`
	Simulated bool           `json:"simulated"`
}

type ScannerHandler struct {
	controller *scanner.Controller
	feed       *scanner.FeedPlatform
	logger     *zap.Logger

	mu        sync.RWMutex
	last      *ScanResult
	notice    string
	lastError string
}

// NewScannerHandler wires a controller to feed. A nil feed leaves the
// controller without a camera, so every start reports it unavailable.
func NewScannerHandler(feed *scanner.FeedPlatform, surface scanner.Surface, capture scanner.CaptureConfig, logger *zap.Logger) *ScannerHandler {
	h := &ScannerHandler{feed: feed, logger: logger}

	var platform scanner.Platform
	if feed != nil {
		platform = feed
	}
	h.controller = scanner.NewController(platform, surface, logger,
		scanner.WithCaptureConfig(capture),
		scanner.OnScan(func(p models.Payload) { h.HandleScan(p, false) }),
		scanner.OnInvalidFrame(func(text string, err error) { h.setNotice("Invalid QR code format") }),
		scanner.OnError(func(err error) { h.setError(err) }),
	)
	return h
}

// HandleScan records a decoded payload as the current scan.
func (h *ScannerHandler) HandleScan(p models.Payload, simulated bool) {
	h.mu.Lock()
	h.last = &ScanResult{Payload: p, ScannedAt: time.Now().UTC(), Simulated: simulated}
	h.notice = ""
	h.lastError = ""
	h.mu.Unlock()

	h.logger.Info("QR code scanned",
		zap.String("user_id", p.UserID),
		zap.String("wallet_id", p.WalletID),
		zap.String("vehicle_id", p.VehicleID),
		zap.Bool("simulated", simulated),
	)
}

func (h *ScannerHandler) setNotice(notice string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notice = notice
}

func (h *ScannerHandler) setError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
}

func (h *ScannerHandler) Close() error {
	return h.controller.Close()
}

func (h *ScannerHandler) stateBody() gin.H {
	body := gin.H{"scanner": h.controller.Status()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.notice != "" {
		body["notice"] = h.notice
	}
	if h.lastError != "" {
		body["last_error"] = h.lastError
	}
	return body
}

func (h *ScannerHandler) Start(c *gin.Context) {
	ctx, span := otel.Tracer("station-service").Start(c.Request.Context(), "StartScanner")
	defer span.End()

	h.setNotice("")
	err := h.controller.Start(ctx)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, scanner.ErrUnsupportedEnvironment):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not supported on this device"})
		case errors.Is(err, scanner.ErrSessionActive), errors.Is(err, scanner.ErrSessionStopped):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, scanner.ErrCameraAcquisition):
			h.logger.Error("Failed to start scanner", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Could not access camera"})
		default:
			h.logger.Error("Failed to start scanner", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	status := h.controller.Status()
	span.SetAttributes(attribute.String("scanner.session_id", status.SessionID))
	c.JSON(http.StatusOK, h.stateBody())
}

func (h *ScannerHandler) Stop(c *gin.Context) {
	h.controller.Stop()
	c.JSON(http.StatusOK, h.stateBody())
}

func (h *ScannerHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.stateBody())
}

// PushFrame feeds one decoded frame into the active camera stream.
func (h *ScannerHandler) PushFrame(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera not supported on this device"})
		return
	}

	var req models.FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.feed.Push(c.Request.Context(), req.Text); err != nil {
		if errors.Is(err, scanner.ErrNoActiveStream) {
			c.JSON(http.StatusConflict, gin.H{"error": "No active scanner session"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *ScannerHandler) Last(c *gin.Context) {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()

	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No scan recorded"})
		return
	}
	c.JSON(http.StatusOK, last)
}

// Simulate stands in for a successful scan with the canned development
// payload. The camera is released first and never consulted.
func (h *ScannerHandler) Simulate(c *gin.Context) {
	p, ok := qrpayload.DebugPayload()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Simulation not available"})
		return
	}

	h.controller.Stop()
	h.HandleScan(p, true)

	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	c.JSON(http.StatusOK, last)
}
