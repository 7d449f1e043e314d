package kafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"benefit-worker/internal/brokers"
	"benefit-worker/internal/common/logging"
)

type Broker struct {
	config   *Config
	producer *kafka.Producer
	name     string
	logger   logging.Logger
}

func NewBroker(config *Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Kafka config: %w", err)
	}

	producerConfig := config.configMap("")
	producerConfig["acks"] = "all"
	producerConfig["enable.idempotence"] = true

	producer, err := kafka.NewProducer(&producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Broker{
		config:   config,
		producer: producer,
		name:     "kafka",
		logger:   logging.GetGlobalLogger().WithFields(logging.String("component", "kafka")),
	}, nil
}

func (b *Broker) Name() string {
	return b.name
}

// Publish produces message and waits for its delivery report
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	if b.producer == nil {
		return fmt.Errorf("Kafka broker not connected")
	}
	if message.Topic == "" {
		return fmt.Errorf("message topic is required")
	}

	topic := message.Topic
	kafkaMsg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:       message.Key,
		Value:     message.Body,
		Timestamp: message.Timestamp,
	}

	if len(message.Headers) > 0 {
		headers := make([]kafka.Header, 0, len(message.Headers))
		for key, value := range message.Headers {
			headers = append(headers, kafka.Header{
				Key:   key,
				Value: []byte(value),
			})
		}
		kafkaMsg.Headers = headers
	}

	// Buffered so the delivery report never blocks librdkafka after ctx is done
	deliveryChan := make(chan kafka.Event, 1)
	if err := b.producer.Produce(kafkaMsg, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for delivery report: %w", ctx.Err())
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event: %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}

		b.logger.Debug("Message delivered",
			logging.String("topic", *m.TopicPartition.Topic),
			logging.Int("partition", int(m.TopicPartition.Partition)),
			logging.Int64("offset", int64(m.TopicPartition.Offset)),
		)
		return nil
	}
}

// Subscribe joins the consumer group and feeds handler until ctx is done.
// Handler errors are logged; offsets are committed by the client regardless.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	consumerConfig := b.config.configMap("-consumer")
	consumerConfig["group.id"] = b.config.GroupID
	consumerConfig["session.timeout.ms"] = 6000
	consumerConfig["auto.offset.reset"] = "latest"
	consumerConfig["enable.auto.commit"] = true

	consumer, err := kafka.NewConsumer(&consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		consumer.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	defer func() {
		if err := consumer.Close(); err != nil {
			b.logger.Error("Failed to close Kafka consumer", err)
		}
	}()

	b.logger.Info("Subscribed", logging.String("topic", topic), logging.String("group", b.config.GroupID))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := consumer.ReadMessage(b.config.PollInterval)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			b.logger.Warn("Kafka consumer error", logging.Err(err))
			continue
		}

		if err := handler(ctx, toIncoming(msg)); err != nil {
			b.logger.Error("Error handling Kafka message", err,
				logging.String("topic", topic),
				logging.Int64("offset", int64(msg.TopicPartition.Offset)),
			)
		}
	}
}

func toIncoming(msg *kafka.Message) *brokers.IncomingMessage {
	var headers map[string]string
	if len(msg.Headers) > 0 {
		headers = make(map[string]string, len(msg.Headers))
		for _, header := range msg.Headers {
			headers[header.Key] = string(header.Value)
		}
	}

	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}

	return &brokers.IncomingMessage{
		Topic:     topic,
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Key:       msg.Key,
		Headers:   headers,
		Body:      msg.Value,
		Timestamp: msg.Timestamp,
	}
}

// Health asks the cluster for metadata through the producer connection
func (b *Broker) Health() error {
	if b.producer == nil {
		return fmt.Errorf("Kafka producer not initialized")
	}

	metadata, err := b.producer.GetMetadata(nil, false, int(b.config.Timeout.Milliseconds()))
	if err != nil {
		return fmt.Errorf("failed to get Kafka metadata: %w", err)
	}

	if len(metadata.Brokers) == 0 {
		return fmt.Errorf("no Kafka brokers available")
	}

	return nil
}

// Close flushes pending deliveries and releases the producer. A running
// Subscribe closes its own consumer once its context is cancelled.
func (b *Broker) Close() error {
	if b.producer == nil {
		return nil
	}

	if remaining := b.producer.Flush(int(b.config.Timeout.Milliseconds())); remaining > 0 {
		b.logger.Warn("Kafka producer closed with undelivered messages", logging.Int("remaining", remaining))
	}
	b.producer.Close()
	b.producer = nil

	return nil
}
