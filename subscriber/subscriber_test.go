package subscriber

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"station-svc/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) add(up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, up)
}

func (u *updates) snapshot() []Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Update(nil), u.list...)
}

func (u *updates) len() int {
	return len(u.snapshot())
}

type failingBackend struct{ err error }

func (b failingBackend) Open(ctx context.Context, name string) (Channel, error) {
	return nil, b.err
}

func updated(id string, status models.TransactionStatus) models.TransactionEvent {
	return models.TransactionEvent{
		EventType:     models.EventTransactionUpdated,
		TransactionID: id,
		Status:        status,
		OccurredAt:    time.Now(),
	}
}

func waitForRoute(t *testing.T, r *Router, name string) {
	t.Helper()
	require.Eventually(t, func() bool { return slices.Contains(r.Names(), name) }, time.Second, 5*time.Millisecond)
}

func TestSubscribe_SimulatedConfirmsOnce(t *testing.T) {
	s := NewTransactionSubscriber(nil, zaptest.NewLogger(t), WithSimulatedDelay(20*time.Millisecond))
	require.True(t, s.Simulated())

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	defer sub.Unsubscribe()

	require.Equal(t, 0, got.len())
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	list := got.snapshot()
	require.Len(t, list, 1)
	require.Equal(t, "tx-1", list[0].TransactionID)
	require.Equal(t, models.TransactionStatusConfirmed, list[0].Status)
	require.True(t, list[0].Simulated)
	require.NoError(t, list[0].Err)
}

func TestSubscribe_SimulatedUnsubscribeBeforeDelay(t *testing.T) {
	s := NewTransactionSubscriber(nil, zaptest.NewLogger(t), WithSimulatedDelay(30*time.Millisecond))

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	sub.Unsubscribe()
	sub.Unsubscribe()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 0, got.len())
}

func TestSubscribe_DefaultDelay(t *testing.T) {
	s := NewTransactionSubscriber(nil, nil)
	require.Equal(t, 3*time.Second, s.delay)
	require.Equal(t, "transaction-tx-9", ChannelName("tx-9"))
}

func TestSubscribe_BackedDeliversMatchingUpdatesInOrder(t *testing.T) {
	router := NewRouter()
	s := NewTransactionSubscriber(router, zaptest.NewLogger(t))
	require.False(t, s.Simulated())

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	defer sub.Unsubscribe()
	waitForRoute(t, router, "transaction-tx-1")

	name := ChannelName("tx-1")
	router.Dispatch(name, updated("tx-1", models.TransactionStatusPending))
	router.Dispatch(name, models.TransactionEvent{EventType: "transaction_created", TransactionID: "tx-1", Status: models.TransactionStatusPending})
	router.Dispatch(name, updated("tx-2", models.TransactionStatusDeclined))
	router.Dispatch(name, updated("tx-1", models.TransactionStatusConfirmed))
	router.Dispatch(name, updated("tx-1", models.TransactionStatusConfirmed))

	require.Eventually(t, func() bool { return got.len() == 3 }, time.Second, 5*time.Millisecond)
	list := got.snapshot()
	require.Equal(t, models.TransactionStatusPending, list[0].Status)
	require.Equal(t, models.TransactionStatusConfirmed, list[1].Status)
	require.Equal(t, models.TransactionStatusConfirmed, list[2].Status)
	for _, u := range list {
		require.NoError(t, u.Err)
		require.False(t, u.Simulated)
	}
}

func TestSubscribe_BackedOpenFailureIsDelivered(t *testing.T) {
	s := NewTransactionSubscriber(failingBackend{err: errors.New("connection refused")}, zaptest.NewLogger(t))

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	u := got.snapshot()[0]
	require.True(t, errors.Is(u.Err, ErrDelivery))
	require.Contains(t, u.Err.Error(), "connection refused")
}

func TestSubscribe_BackedChannelErrorsAreDelivered(t *testing.T) {
	router := NewRouter()
	s := NewTransactionSubscriber(router, zaptest.NewLogger(t))

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	defer sub.Unsubscribe()
	waitForRoute(t, router, "transaction-tx-1")

	router.Fail(errors.New("broker unavailable"))
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, errors.Is(got.snapshot()[0].Err, ErrDelivery))

	router.Dispatch(ChannelName("tx-1"), updated("tx-1", models.TransactionStatusDeclined))
	require.Eventually(t, func() bool { return got.len() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, models.TransactionStatusDeclined, got.snapshot()[1].Status)
}

func TestSubscribe_BackedShutdownIsDelivered(t *testing.T) {
	router := NewRouter()
	s := NewTransactionSubscriber(router, zaptest.NewLogger(t))

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	defer sub.Unsubscribe()
	waitForRoute(t, router, "transaction-tx-1")

	router.Shutdown()

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, errors.Is(got.snapshot()[0].Err, ErrDelivery))
}

func TestSubscribe_BackedUnsubscribeClosesChannel(t *testing.T) {
	router := NewRouter()
	s := NewTransactionSubscriber(router, zaptest.NewLogger(t))

	got := &updates{}
	sub := s.Subscribe("tx-1", got.add)
	waitForRoute(t, router, "transaction-tx-1")

	sub.Unsubscribe()

	require.Eventually(t, func() bool { return len(router.Names()) == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, router.Dispatch(ChannelName("tx-1"), updated("tx-1", models.TransactionStatusConfirmed)))
	require.Equal(t, 0, got.len())
}

func TestSubscribe_UnsubscribeFromCallback(t *testing.T) {
	router := NewRouter()
	s := NewTransactionSubscriber(router, zaptest.NewLogger(t))

	got := &updates{}
	var sub *Subscription
	ready := make(chan struct{})
	sub = s.Subscribe("tx-1", func(u Update) {
		<-ready
		got.add(u)
		if u.Status.Terminal() {
			sub.Unsubscribe()
		}
	})
	close(ready)
	waitForRoute(t, router, "transaction-tx-1")

	router.Dispatch(ChannelName("tx-1"), updated("tx-1", models.TransactionStatusExpired))

	require.Eventually(t, func() bool { return len(router.Names()) == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, got.len())
}

func TestSubscription_Ready(t *testing.T) {
	logger := zaptest.NewLogger(t)

	simulated := NewTransactionSubscriber(nil, logger).Subscribe("tx-1", func(Update) {})
	defer simulated.Unsubscribe()
	select {
	case <-simulated.Ready():
	default:
		t.Fatal("simulated subscription not ready")
	}

	router := NewRouter()
	backed := NewTransactionSubscriber(router, logger).Subscribe("tx-2", func(Update) {})
	defer backed.Unsubscribe()
	select {
	case <-backed.Ready():
		waitForRoute(t, router, ChannelName("tx-2"))
	case <-time.After(time.Second):
		t.Fatal("backed subscription not ready")
	}

	got := &updates{}
	failed := NewTransactionSubscriber(failingBackend{err: errors.New("down")}, logger).Subscribe("tx-3", got.add)
	defer failed.Unsubscribe()
	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-failed.Ready():
		t.Fatal("failed subscription reported ready")
	default:
	}
}
