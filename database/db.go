package database

import (
	"database/sql"
	"fmt"

	"station-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id VARCHAR(64) PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	wallet_id VARCHAR(255) NOT NULL,
	vehicle_id VARCHAR(255) NOT NULL DEFAULT '',
	fuel_type VARCHAR(64) NOT NULL DEFAULT '',
	amount DECIMAL(10, 2) NOT NULL DEFAULT 0,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);

CREATE OR REPLACE FUNCTION notify_transaction_updated() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('transaction-' || NEW.id, json_build_object(
		'event_type', 'transaction_updated',
		'transaction_id', NEW.id,
		'status', NEW.status,
		'transaction', row_to_json(NEW),
		'occurred_at', NOW()
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS transactions_status_notify ON transactions;
CREATE TRIGGER transactions_status_notify
	AFTER UPDATE OF status ON transactions
	FOR EACH ROW EXECUTE FUNCTION notify_transaction_updated();
`

func InitDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Status updates notify "transaction-<id>" for the postgres realtime driver.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database connection established", zap.String("host", cfg.DBHost), zap.String("database", cfg.DBName))
	return db, nil
}
