package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"station-svc/models"

	"github.com/google/uuid"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTerminalStatus      = errors.New("transaction already in a terminal status")
)

// Store persists transactions. UpdateStatus refuses to move a
// transaction out of a terminal status.
type Store interface {
	CreateTransaction(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id string, status models.TransactionStatus) (*models.Transaction, error)
}

const transactionColumns = "id, user_id, wallet_id, vehicle_id, fuel_type, amount, status, created_at, updated_at"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(&tx.ID, &tx.UserID, &tx.WalletID, &tx.VehicleID, &tx.FuelType,
		&tx.Amount, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, req models.CreateTransactionRequest) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		"INSERT INTO transactions (id, user_id, wallet_id, vehicle_id, fuel_type, amount, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+transactionColumns,
		uuid.NewString(), req.UserID, req.WalletID, req.VehicleID, req.FuelType, req.Amount, models.TransactionStatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return tx, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.TransactionStatus) (*models.Transaction, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var current models.TransactionStatus
	err = dbTx.QueryRowContext(ctx, "SELECT status FROM transactions WHERE id = $1 FOR UPDATE", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	if current.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalStatus, current)
	}

	tx, err := scanTransaction(dbTx.QueryRowContext(ctx,
		"UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3 RETURNING "+transactionColumns,
		status, time.Now().UTC(), id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}
	return tx, nil
}
