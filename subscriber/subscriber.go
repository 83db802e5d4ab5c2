// Package subscriber delivers status updates for a single transaction,
// either from a live backend channel or from a simulated confirmation
// when no backend is configured.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"station-svc/middleware"
	"station-svc/models"

	"go.uber.org/zap"
)

const DefaultSimulatedDelay = 3 * time.Second

var ErrDelivery = errors.New("subscriber: delivery failed")

// Channel is an open backend scope delivering transaction events.
// Events is closed when the backend drops the channel.
type Channel interface {
	Events() <-chan models.TransactionEvent
	Errors() <-chan error
	Close() error
}

// Backend opens named channels on a live realtime transport.
type Backend interface {
	Open(ctx context.Context, name string) (Channel, error)
}

// Update is one delivery. Exactly one of Status and Err is meaningful.
type Update struct {
	TransactionID string
	Status        models.TransactionStatus
	Transaction   *models.Transaction
	Simulated     bool
	Err           error
}

type Callback func(Update)

// ChannelName returns the channel scope for a transaction.
func ChannelName(transactionID string) string {
	return "transaction-" + transactionID
}

type Option func(*TransactionSubscriber)

func WithSimulatedDelay(d time.Duration) Option {
	return func(s *TransactionSubscriber) { s.delay = d }
}

type TransactionSubscriber struct {
	backend Backend
	delay   time.Duration
	logger  *zap.Logger
}

// NewTransactionSubscriber returns a subscriber bound to backend. A nil
// backend selects simulated mode.
func NewTransactionSubscriber(backend Backend, logger *zap.Logger, opts ...Option) *TransactionSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TransactionSubscriber{backend: backend, delay: DefaultSimulatedDelay, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TransactionSubscriber) Simulated() bool {
	return s.backend == nil
}

func (s *TransactionSubscriber) mode() string {
	if s.Simulated() {
		return "simulated"
	}
	return "backed"
}

// Subscription is one outstanding interest in a transaction.
type Subscription struct {
	TransactionID string

	callback  Callback
	mode      string
	cancelled atomic.Bool
	once      sync.Once
	ready     chan struct{}
	cancel    context.CancelFunc
	timer     *time.Timer
	logger    *zap.Logger
}

// Subscribe starts delivering updates for transactionID to onUpdate. It
// never fails; backend failures arrive as updates carrying Err.
func (s *TransactionSubscriber) Subscribe(transactionID string, onUpdate Callback) *Subscription {
	sub := &Subscription{
		TransactionID: transactionID,
		callback:      onUpdate,
		mode:          s.mode(),
		ready:         make(chan struct{}),
		logger:        s.logger.With(zap.String("transaction_id", transactionID)),
	}

	if s.Simulated() {
		close(sub.ready)
		sub.timer = time.AfterFunc(s.delay, func() {
			sub.deliver(Update{
				TransactionID: transactionID,
				Status:        models.TransactionStatusConfirmed,
				Simulated:     true,
			})
		})
		sub.logger.Info("Simulated transaction subscription", zap.Duration("delay", s.delay))
		return sub
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub.cancel = cancel
	go s.listen(ctx, sub)
	return sub
}

func (s *TransactionSubscriber) listen(ctx context.Context, sub *Subscription) {
	name := ChannelName(sub.TransactionID)
	ch, err := s.backend.Open(ctx, name)
	if err != nil {
		if ctx.Err() == nil {
			sub.fail(fmt.Errorf("%w: open %s: %v", ErrDelivery, name, err))
		}
		return
	}
	defer func() {
		if err := ch.Close(); err != nil {
			sub.logger.Warn("Failed to close transaction channel", zap.Error(err))
		}
	}()

	close(sub.ready)
	sub.logger.Info("Subscribed to transaction channel", zap.String("channel", name))

	errs := ch.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				if ctx.Err() == nil {
					sub.fail(fmt.Errorf("%w: channel %s closed", ErrDelivery, name))
				}
				return
			}
			if ev.EventType != models.EventTransactionUpdated || ev.TransactionID != sub.TransactionID {
				continue
			}
			sub.deliver(Update{
				TransactionID: sub.TransactionID,
				Status:        ev.Status,
				Transaction:   ev.Transaction,
			})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			sub.fail(fmt.Errorf("%w: %v", ErrDelivery, err))
		}
	}
}

// Ready is closed once the subscription receives every later update. A
// change made before that may only be visible by reading the transaction
// again. It stays open if the backend channel fails to open.
func (sub *Subscription) Ready() <-chan struct{} {
	return sub.ready
}

func (sub *Subscription) deliver(u Update) {
	if sub.cancelled.Load() {
		return
	}
	middleware.RecordSubscriptionDelivery(sub.mode, string(u.Status))
	sub.callback(u)
}

func (sub *Subscription) fail(err error) {
	if sub.cancelled.Load() {
		return
	}
	sub.logger.Error("Transaction subscription error", zap.Error(err))
	middleware.RecordSubscriptionDelivery(sub.mode, "error")
	sub.callback(Update{TransactionID: sub.TransactionID, Err: err})
}

// Unsubscribe stops further deliveries. It is safe to call repeatedly
// and from inside the callback.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.cancelled.Store(true)
		if sub.timer != nil {
			sub.timer.Stop()
		}
		if sub.cancel != nil {
			sub.cancel()
		}
		sub.logger.Debug("Unsubscribed from transaction")
	})
}
