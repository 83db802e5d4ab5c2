package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"station-svc/models"
	"station-svc/subscriber"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PubSub carries transaction events over Redis channels named after the
// transaction. It implements subscriber.Backend.
type PubSub struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPubSub(rdb *redis.Client, logger *zap.Logger) *PubSub {
	return &PubSub{rdb: rdb, logger: logger}
}

func (p *PubSub) Open(ctx context.Context, name string) (subscriber.Channel, error) {
	ps := p.rdb.Subscribe(ctx, name)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	ch := &pubsubChannel{
		ps:     ps,
		events: make(chan models.TransactionEvent, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: p.logger.With(zap.String("channel", name)),
	}
	go ch.pump(ps.Channel())
	return ch, nil
}

func (p *PubSub) Publish(ctx context.Context, event models.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, subscriber.ChannelName(event.TransactionID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

type pubsubChannel struct {
	ps     *redis.PubSub
	events chan models.TransactionEvent
	errs   chan error
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (c *pubsubChannel) Events() <-chan models.TransactionEvent { return c.events }
func (c *pubsubChannel) Errors() <-chan error                   { return c.errs }

func (c *pubsubChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ps.Close()
	})
	return err
}

func (c *pubsubChannel) pump(messages <-chan *redis.Message) {
	defer close(c.events)
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event, err := decodeMessage(msg.Payload)
			if err != nil {
				c.logger.Warn("Dropping malformed transaction event", zap.Error(err))
				select {
				case c.errs <- err:
				default:
				}
				continue
			}
			select {
			case c.events <- event:
			case <-c.done:
				return
			}
		}
	}
}

func decodeMessage(payload string) (models.TransactionEvent, error) {
	var event models.TransactionEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.TransactionEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}
