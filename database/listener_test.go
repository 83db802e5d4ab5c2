package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"station-svc/models"
	"station-svc/subscriber"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeNotifier struct {
	mu        sync.Mutex
	listening map[string]int
	listenErr error
	ch        chan *pq.Notification
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{listening: make(map[string]int), ch: make(chan *pq.Notification, 8)}
}

func (f *fakeNotifier) Listen(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenErr != nil {
		return f.listenErr
	}
	f.listening[channel]++
	return nil
}

func (f *fakeNotifier) Unlisten(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listening, channel)
	return nil
}

func (f *fakeNotifier) NotificationChannel() <-chan *pq.Notification {
	return f.ch
}

func (f *fakeNotifier) listens(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening[channel]
}

func TestListener_ListensWhileSubscribed(t *testing.T) {
	notifier := newFakeNotifier()
	l := NewListener(notifier, zaptest.NewLogger(t))

	a, err := l.Open(context.Background(), "transaction-tx-1")
	require.NoError(t, err)
	b, err := l.Open(context.Background(), "transaction-tx-1")
	require.NoError(t, err)
	require.Equal(t, 1, notifier.listens("transaction-tx-1"))

	a.Close()
	require.Equal(t, 1, notifier.listens("transaction-tx-1"))
	b.Close()
	require.Equal(t, 0, notifier.listens("transaction-tx-1"))
}

func TestListener_ListenFailure(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.listenErr = errors.New("connection refused")
	l := NewListener(notifier, zaptest.NewLogger(t))

	_, err := l.Open(context.Background(), "transaction-tx-1")

	require.ErrorContains(t, err, "failed to listen on transaction-tx-1")
}

func TestListener_DeliversNotifications(t *testing.T) {
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	notifier := newFakeNotifier()
	l := NewListener(notifier, logger)
	subs := subscriber.NewTransactionSubscriber(l, logger)

	var mu sync.Mutex
	var got []subscriber.Update
	sub := subs.Subscribe("tx-1", func(u subscriber.Update) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	defer sub.Unsubscribe()
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	require.Eventually(t, func() bool { return notifier.listens("transaction-tx-1") == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	notifier.ch <- nil
	notifier.ch <- &pq.Notification{Channel: "transaction-tx-1", Extra: "{broken"}
	notifier.ch <- &pq.Notification{
		Channel: "transaction-tx-1",
		Extra:   `{"event_type":"transaction_updated","transaction_id":"tx-1","status":"confirmed","transaction":{"id":"tx-1","amount":200,"status":"confirmed"},"occurred_at":"2026-10-18T10:00:00.123456+00:00"}`,
	}

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, models.TransactionStatusConfirmed, got[0].Status)
	require.NotNil(t, got[0].Transaction)
	require.Equal(t, 200.0, got[0].Transaction.Amount)
	mu.Unlock()

	cancel()
	<-done

	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.ErrorIs(t, got[1].Err, subscriber.ErrDelivery)
	mu.Unlock()
}
