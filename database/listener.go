package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"station-svc/config"
	"station-svc/models"
	"station-svc/subscriber"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Notifier is the subset of *pq.Listener used by Listener.
type Notifier interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
}

func InitListener(cfg *config.Config, logger *zap.Logger) (*pq.Listener, error) {
	listener := pq.NewListener(cfg.PostgresDSN(), 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("Postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})

	if err := listener.Ping(); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to ping postgres listener: %w", err)
	}

	logger.Info("Postgres listener initialized")
	return listener, nil
}

// Listener turns NOTIFY payloads raised by the transactions trigger into
// channel events. It implements subscriber.Backend and LISTENs on a
// channel only while a subscription holds it open.
type Listener struct {
	notifier Notifier
	router   *subscriber.Router
	logger   *zap.Logger
}

func NewListener(notifier Notifier, logger *zap.Logger) *Listener {
	l := &Listener{notifier: notifier, logger: logger}
	l.router = subscriber.NewRouter(subscriber.WithHooks(l.listen, l.unlisten))
	return l
}

func (l *Listener) Open(ctx context.Context, name string) (subscriber.Channel, error) {
	return l.router.Open(ctx, name)
}

func (l *Listener) listen(name string) error {
	if err := l.notifier.Listen(name); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", name, err)
	}
	return nil
}

func (l *Listener) unlisten(name string) {
	if err := l.notifier.Unlisten(name); err != nil {
		l.logger.Warn("Failed to unlisten", zap.String("channel", name), zap.Error(err))
	}
}

// Start forwards notifications until ctx is cancelled or the notifier
// closes. Open channels are closed when it returns.
func (l *Listener) Start(ctx context.Context) {
	defer l.router.Shutdown()

	notifications := l.notifier.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				l.logger.Warn("Postgres notification channel closed")
				return
			}
			if n == nil {
				// Reconnected; notifications sent while disconnected are lost.
				l.logger.Warn("Postgres listener reconnected")
				continue
			}

			var event models.TransactionEvent
			if err := json.Unmarshal([]byte(n.Extra), &event); err != nil {
				l.logger.Error("Failed to decode notification", zap.String("channel", n.Channel), zap.Error(err))
				continue
			}
			l.router.Dispatch(n.Channel, event)
		}
	}
}
