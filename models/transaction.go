package models

import "time"

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusDeclined  TransactionStatus = "declined"
	TransactionStatusExpired   TransactionStatus = "expired"
)

// Terminal reports whether no further updates are expected after s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusConfirmed, TransactionStatusDeclined, TransactionStatusExpired:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	return s == TransactionStatusPending || s.Terminal()
}

const EventTransactionUpdated = "transaction_updated"

type Transaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	WalletID  string            `json:"wallet_id"`
	VehicleID string            `json:"vehicle_id,omitempty"`
	FuelType  string            `json:"fuel_type,omitempty"`
	Amount    float64           `json:"amount"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TransactionEvent is the message carried on a transaction channel.
type TransactionEvent struct {
	EventType     string            `json:"event_type"` // transaction_updated
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	Transaction   *Transaction      `json:"transaction,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type CreateTransactionRequest struct {
	UserID    string  `json:"user_id" binding:"required"`
	WalletID  string  `json:"wallet_id" binding:"required"`
	VehicleID string  `json:"vehicle_id"`
	FuelType  string  `json:"fuel_type"`
	Amount    float64 `json:"amount" binding:"gte=0"`
}

type UpdateStatusRequest struct {
	Status TransactionStatus `json:"status" binding:"required,oneof=pending confirmed declined expired"`
}
