package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"station-svc/models"
	"station-svc/qrpayload"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func setupWalletTest(t *testing.T) *gin.Engine {
	handler := NewWalletHandler(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/wallet/qr", handler.QRCode)
	router.POST("/wallet/payload", handler.Payload)
	router.POST("/wallet/decode", handler.Decode)
	return router
}

func TestWalletHandler_Payload(t *testing.T) {
	router := setupWalletTest(t)

	w := perform(router, "POST", "/wallet/payload", models.Payload{
		UserID:   "user-007",
		WalletID: "wallet-007",
		Name:     "Ama Mensah",
		Vehicle:  &models.Vehicle{ID: "vehicle-007", LicensePlate: "GR-1234-24", FuelType: "Diesel"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Text    string         `json:"text"`
		Payload models.Payload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Payload.Timestamp)
	require.Equal(t, "vehicle-007", resp.Payload.VehicleID)
	require.Equal(t, "Diesel", resp.Payload.FuelType)

	decoded, err := qrpayload.Decode(resp.Text)
	require.NoError(t, err)
	require.Equal(t, "wallet-007", decoded.WalletID)
	require.Equal(t, "GR-1234-24", decoded.Vehicle.LicensePlate)
}

func TestWalletHandler_PayloadRejectsInvalid(t *testing.T) {
	router := setupWalletTest(t)
	negative := -5.0

	tests := []struct {
		name string
		body any
	}{
		{"missing wallet", gin.H{"userId": "user-007"}},
		{"negative max amount", models.Payload{UserID: "u", WalletID: "w", MaxAmount: &negative}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(router, "POST", "/wallet/payload", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestWalletHandler_QRCode(t *testing.T) {
	router := setupWalletTest(t)
	body := models.Payload{UserID: "user-007", WalletID: "wallet-007"}

	w := perform(router, "POST", "/wallet/qr?size=128", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = perform(router, "POST", "/wallet/qr?size=huge", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWalletHandler_Decode(t *testing.T) {
	router := setupWalletTest(t)

	tests := []struct {
		text     string
		wantCode int
		wantKind string
	}{
		{`{"userId":"u","walletId":"w"}`, http.StatusOK, ""},
		{`hello`, http.StatusBadRequest, "malformed_syntax"},
		{`{"userId":"u"}`, http.StatusBadRequest, "missing_required_field"},
		{`{"userId":"u","walletId":"w","maxAmount":-1}`, http.StatusBadRequest, "invalid_field"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			w := perform(router, "POST", "/wallet/decode", models.FrameRequest{Text: tt.text})
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantKind != "" {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				require.Equal(t, tt.wantKind, resp["kind"])
			}
		})
	}
}
