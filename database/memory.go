package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"station-svc/models"

	"github.com/google/uuid"
)

// MemoryStore keeps transactions in process. It backs the service when
// no database is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]models.Transaction)}
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error) {
	now := time.Now().UTC()
	tx := models.Transaction{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		WalletID:  req.WalletID,
		VehicleID: req.VehicleID,
		FuelType:  req.FuelType,
		Amount:    req.Amount,
		Status:    models.TransactionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	return &tx, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &tx, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if tx.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalStatus, tx.Status)
	}

	tx.Status = status
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[id] = tx
	return &tx, nil
}
