//go:build !production

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"station-svc/scanner"

	"github.com/stretchr/testify/require"
)

func TestScannerHandler_Simulate(t *testing.T) {
	feed := scanner.NewFeedPlatform([]string{"camera-front"})
	_, router := setupScannerTest(t, feed)

	require.Equal(t, http.StatusOK, perform(router, "POST", "/scanner/start", nil).Code)

	w := perform(router, "POST", "/scanner/simulate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result ScanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.True(t, result.Simulated)
	require.Equal(t, "user-001", result.Payload.UserID)
	require.Equal(t, "wallet-001", result.Payload.WalletID)

	require.False(t, feed.Active())
	require.Equal(t, "stopped", readState(t, router).Scanner.State)
}
