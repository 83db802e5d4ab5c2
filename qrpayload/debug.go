//go:build !production

package qrpayload

import "station-svc/models"

// DebugPayload returns the canned payload used to exercise the scan
// pipeline without a camera. Builds tagged production report false.
func DebugPayload() (models.Payload, bool) {
	maxAmount := 200.0
	return models.Payload{
		UserID:    "user-001",
		WalletID:  "wallet-001",
		VehicleID: "vehicle-001",
		FuelType:  "Regular",
		MaxAmount: &maxAmount,
	}, true
}
