package models

// Payload is the wallet identification carried by a customer QR code.
type Payload struct {
	UserID    string   `json:"userId" validate:"required"`
	WalletID  string   `json:"walletId" validate:"required"`
	Name      string   `json:"name,omitempty"`
	VehicleID string   `json:"vehicleId,omitempty"`
	FuelType  string   `json:"fuelType,omitempty"`
	MaxAmount *float64 `json:"maxAmount,omitempty" validate:"omitempty,gte=0"`
	Vehicle   *Vehicle `json:"vehicle,omitempty"`
	// Timestamp is kept as the ISO-8601 text the wallet sent.
	Timestamp string   `json:"timestamp,omitempty"`
}

type Vehicle struct {
	ID           string `json:"id"`
	LicensePlate string `json:"licensePlate"`
	FuelType     string `json:"fuelType"`
}

type FrameRequest struct {
	Text string `json:"text" binding:"required"`
}
