package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"station-svc/models"
	"station-svc/qrpayload"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxImageSize = 1024

type WalletHandler struct {
	logger *zap.Logger
}

func NewWalletHandler(logger *zap.Logger) *WalletHandler {
	return &WalletHandler{logger: logger}
}

// bindPayload reads a payload body, stamps it when the client did not,
// and returns its wire text after validating it like a scanner would.
func (h *WalletHandler) bindPayload(c *gin.Context) (models.Payload, string, bool) {
	var p models.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Payload{}, "", false
	}
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if p.Vehicle != nil {
		if p.VehicleID == "" {
			p.VehicleID = p.Vehicle.ID
		}
		if p.FuelType == "" {
			p.FuelType = p.Vehicle.FuelType
		}
	}

	text := qrpayload.Encode(p)
	if _, err := qrpayload.Decode(text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Payload{}, "", false
	}
	return p, text, true
}

func (h *WalletHandler) Payload(c *gin.Context) {
	p, text, ok := h.bindPayload(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text, "payload": p})
}

func (h *WalletHandler) QRCode(c *gin.Context) {
	_, span := otel.Tracer("station-service").Start(c.Request.Context(), "RenderWalletQR")
	defer span.End()

	size := qrpayload.DefaultImageSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxImageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid size"})
			return
		}
		size = n
	}

	p, _, ok := h.bindPayload(c)
	if !ok {
		return
	}

	png, err := qrpayload.EncodePNG(p, size)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to render QR code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.String("wallet.id", p.WalletID), attribute.Int("qr.size", size))
	c.Data(http.StatusOK, "image/png", png)
}

// Decode validates scanned text and reports which rule it broke.
func (h *WalletHandler) Decode(c *gin.Context) {
	var req models.FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := qrpayload.Decode(req.Text)
	if err != nil {
		kind := "invalid_field"
		switch {
		case errors.Is(err, qrpayload.ErrMalformedSyntax):
			kind = "malformed_syntax"
		case errors.Is(err, qrpayload.ErrMissingRequiredField):
			kind = "missing_required_field"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": kind})
		return
	}
	c.JSON(http.StatusOK, p)
}
