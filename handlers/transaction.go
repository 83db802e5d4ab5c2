package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"station-svc/cache"
	"station-svc/circuitbreaker"
	"station-svc/database"
	"station-svc/middleware"
	"station-svc/models"
	"station-svc/subscriber"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const transactionCacheTTL = 30 * time.Second

// Publisher announces status changes on the realtime transport.
type Publisher interface {
	Publish(ctx context.Context, event models.TransactionEvent) error
}

type TransactionHandler struct {
	store          database.Store
	publisher      Publisher
	subscriber     *subscriber.TransactionSubscriber
	redisClient    *redis.Client
	streamTimeout  time.Duration
	storeBreaker   *circuitbreaker.CircuitBreaker
	publishBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

// NewTransactionHandler builds the transaction API. publisher and
// redisClient are optional: without a publisher status changes reach
// subscribers only through the store (postgres trigger) or not at all.
func NewTransactionHandler(
	store database.Store,
	publisher Publisher,
	subs *subscriber.TransactionSubscriber,
	redisClient *redis.Client,
	streamTimeout time.Duration,
	logger *zap.Logger,
) *TransactionHandler {
	return &TransactionHandler{
		store:         store,
		publisher:     publisher,
		subscriber:    subs,
		redisClient:   redisClient,
		streamTimeout: streamTimeout,
		storeBreaker: circuitbreaker.NewCircuitBreaker("transaction-store", 5, 30*time.Second,
			circuitbreaker.WithIgnoredErrors(database.ErrTransactionNotFound, database.ErrTerminalStatus),
			circuitbreaker.WithLogger(logger)),
		publishBreaker: circuitbreaker.NewCircuitBreaker("transaction-publisher", 5, 30*time.Second,
			circuitbreaker.WithLogger(logger)),
		logger: logger,
	}
}

func (h *TransactionHandler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	case errors.Is(err, database.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
	case errors.Is(err, database.ErrTerminalStatus):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Transaction store failure", zap.String("trace_id", middleware.GetTraceID(c.Request.Context())), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	ctx, span := otel.Tracer("station-service").Start(c.Request.Context(), "CreateTransaction")
	defer span.End()

	var req models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var tx *models.Transaction
	err := h.storeBreaker.Execute(ctx, func() error {
		var err error
		tx, err = h.store.CreateTransaction(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		h.storeError(c, err)
		return
	}

	span.SetAttributes(attribute.String("transaction.id", tx.ID), attribute.Float64("amount", tx.Amount))
	middleware.RecordTransactionStatus(string(tx.Status))
	h.logger.Info("Transaction created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("transaction_id", tx.ID),
		zap.String("wallet_id", tx.WalletID),
	)
	c.JSON(http.StatusCreated, tx)
}

func (h *TransactionHandler) lookup(ctx context.Context, id string) (*models.Transaction, error) {
	if h.redisClient != nil {
		if tx, err := cache.GetTransaction(ctx, h.redisClient, id); err == nil {
			return tx, nil
		}
	}

	tx, err := h.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if h.redisClient != nil {
		if err := cache.SetTransaction(ctx, h.redisClient, tx, transactionCacheTTL); err != nil {
			h.logger.Warn("Failed to cache transaction", zap.String("transaction_id", id), zap.Error(err))
		}
	}
	return tx, nil
}

// load reads through to the store, skipping the cache.
func (h *TransactionHandler) load(ctx context.Context, id string) (*models.Transaction, error) {
	var tx *models.Transaction
	err := h.storeBreaker.Execute(ctx, func() error {
		var err error
		tx, err = h.store.GetTransaction(ctx, id)
		return err
	})
	return tx, err
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	ctx, span := otel.Tracer("station-service").Start(c.Request.Context(), "GetTransaction")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("transaction.id", id))

	tx, err := h.lookup(ctx, id)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *TransactionHandler) UpdateStatus(c *gin.Context) {
	ctx, span := otel.Tracer("station-service").Start(c.Request.Context(), "UpdateTransactionStatus")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("transaction.id", id))

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var tx *models.Transaction
	err := h.storeBreaker.Execute(ctx, func() error {
		var err error
		tx, err = h.store.UpdateStatus(ctx, id, req.Status)
		return err
	})
	if err != nil {
		span.RecordError(err)
		h.storeError(c, err)
		return
	}

	middleware.RecordTransactionStatus(string(tx.Status))
	span.SetAttributes(attribute.String("transaction.status", string(tx.Status)))

	if h.redisClient != nil {
		if err := cache.DeleteTransaction(ctx, h.redisClient, id); err != nil {
			h.logger.Warn("Failed to invalidate cached transaction", zap.String("transaction_id", id), zap.Error(err))
		}
	}

	if h.publisher != nil {
		event := models.TransactionEvent{
			EventType:     models.EventTransactionUpdated,
			TransactionID: tx.ID,
			Status:        tx.Status,
			Transaction:   tx,
			OccurredAt:    tx.UpdatedAt,
		}
		err := h.publishBreaker.Execute(ctx, func() error {
			return h.publisher.Publish(ctx, event)
		})
		if err != nil {
			// The status change stands; subscribers will miss this update.
			span.RecordError(err)
			h.logger.Error("Failed to publish transaction event",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("transaction_id", tx.ID),
				zap.Error(err),
			)
		}
	}

	h.logger.Info("Transaction status updated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(tx.Status)),
	)
	c.JSON(http.StatusOK, tx)
}

// StreamEvents relays status updates for one transaction as Server-Sent
// Events. The stream ends on a terminal status, a delivery error, client
// disconnect or the configured timeout.
func (h *TransactionHandler) StreamEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	tx, err := h.lookup(ctx, id)
	if err != nil {
		h.storeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("status", gin.H{"transaction_id": tx.ID, "status": tx.Status, "simulated": false})
	c.Writer.Flush()
	if tx.Status.Terminal() {
		return
	}

	done := make(chan struct{})
	defer close(done)
	updates := make(chan subscriber.Update, 8)

	sub := h.subscriber.Subscribe(id, func(u subscriber.Update) {
		select {
		case updates <- u:
		case <-done:
		}
	})
	defer sub.Unsubscribe()
	ready := sub.Ready()
	last := tx.Status

	timer := time.NewTimer(h.streamTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.SSEvent("timeout", gin.H{"transaction_id": id})
			c.Writer.Flush()
			return
		case <-ready:
			ready = nil
			// Catch a change committed before the channel was live.
			current, err := h.load(ctx, id)
			if err != nil {
				h.logger.Warn("Failed to reload transaction", zap.String("transaction_id", id), zap.Error(err))
				continue
			}
			if current.Status == last {
				continue
			}
			last = current.Status
			c.SSEvent("status", gin.H{"transaction_id": id, "status": current.Status, "simulated": false})
			c.Writer.Flush()
			if current.Status.Terminal() {
				return
			}
		case u := <-updates:
			if u.Err != nil {
				h.logger.Warn("Transaction stream failed", zap.String("transaction_id", id), zap.Error(u.Err))
				c.SSEvent("error", gin.H{"transaction_id": id, "error": u.Err.Error()})
				c.Writer.Flush()
				return
			}
			last = u.Status
			c.SSEvent("status", gin.H{"transaction_id": u.TransactionID, "status": u.Status, "simulated": u.Simulated})
			c.Writer.Flush()
			if u.Status.Terminal() {
				return
			}
		}
	}
}
