package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"station-svc/config"
	"station-svc/middleware"
	"station-svc/models"
	"station-svc/subscriber"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func InitConsumer(cfg *config.Config, logger *zap.Logger) (sarama.Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true

	brokers := []string{cfg.KafkaBroker}

	consumer, err := sarama.NewConsumer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized", zap.Strings("brokers", brokers))
	return consumer, nil
}

// Hub reads the transaction topic once and routes each event to the
// channels opened for its transaction. It implements subscriber.Backend.
type Hub struct {
	consumer sarama.Consumer
	topic    string
	router   *subscriber.Router
	logger   *zap.Logger
}

func NewHub(consumer sarama.Consumer, topic string, logger *zap.Logger) *Hub {
	return &Hub{
		consumer: consumer,
		topic:    topic,
		router:   subscriber.NewRouter(),
		logger:   logger,
	}
}

func (h *Hub) Open(ctx context.Context, name string) (subscriber.Channel, error) {
	return h.router.Open(ctx, name)
}

// Start consumes every partition of the topic until ctx is cancelled or
// a partition consumer stops. Events for one transaction share a key and
// so a partition, which keeps them in order. Open channels are closed
// when it returns.
func (h *Hub) Start(ctx context.Context) error {
	defer h.router.Shutdown()

	partitions, err := h.consumer.Partitions(h.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	messages := make(chan *sarama.ConsumerMessage)
	consumerErrs := make(chan *sarama.ConsumerError)
	stopped := make(chan int32, len(partitions))
	quit := make(chan struct{})

	var wg sync.WaitGroup
	partitionConsumers := make([]sarama.PartitionConsumer, 0, len(partitions))
	defer func() {
		close(quit)
		for _, pc := range partitionConsumers {
			pc.Close()
		}
		wg.Wait()
	}()

	for _, partition := range partitions {
		pc, err := h.consumer.ConsumePartition(h.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", partition, err)
		}
		partitionConsumers = append(partitionConsumers, pc)

		wg.Add(2)
		go h.forwardMessages(pc, partition, messages, stopped, quit, &wg)
		go h.forwardErrors(pc, consumerErrs, quit, &wg)
	}

	h.logger.Info("Kafka consumer started",
		zap.String("topic", h.topic),
		zap.Int("partitions", len(partitions)),
	)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Kafka consumer stopping", zap.String("topic", h.topic))
			return nil
		case partition := <-stopped:
			h.logger.Warn("Kafka partition consumer stopped",
				zap.String("topic", h.topic),
				zap.Int32("partition", partition),
			)
			return nil
		case message := <-messages:
			if err := h.handleMessage(message); err != nil {
				h.logger.Error("Failed to handle message", zap.Error(err))
			}
		case consumerErr := <-consumerErrs:
			h.logger.Error("Kafka consumer error", zap.Error(consumerErr))
			h.router.Fail(consumerErr)
		}
	}
}

func (h *Hub) forwardMessages(pc sarama.PartitionConsumer, partition int32, out chan<- *sarama.ConsumerMessage, stopped chan<- int32, quit <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for message := range pc.Messages() {
		select {
		case out <- message:
		case <-quit:
			return
		}
	}
	stopped <- partition
}

func (h *Hub) forwardErrors(pc sarama.PartitionConsumer, out chan<- *sarama.ConsumerError, quit <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for consumerErr := range pc.Errors() {
		select {
		case out <- consumerErr:
		case <-quit:
			return
		}
	}
}

func (h *Hub) handleMessage(message *sarama.ConsumerMessage) error {
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx := propagator.Extract(context.Background(), carrier)

	var tracer trace.Tracer = otel.Tracer("station-service")
	_, span := tracer.Start(ctx, "RouteTransactionEvent")
	defer span.End()

	traceID := middleware.GetTraceID(ctx)

	var event models.TransactionEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.TransactionID == "" {
		return fmt.Errorf("event without transaction_id at offset %d", message.Offset)
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("transaction.id", event.TransactionID),
	)

	delivered := h.router.Dispatch(subscriber.ChannelName(event.TransactionID), event)

	h.logger.Debug("Transaction event routed",
		zap.String("trace_id", traceID),
		zap.String("transaction_id", event.TransactionID),
		zap.String("status", string(event.Status)),
		zap.Int("subscribers", delivered),
	)
	return nil
}
