package brokers

import (
	"context"
	"time"
)

// Publisher writes records to the stream
type Publisher interface {
	Publish(ctx context.Context, message *Message) error
}

// Subscriber consumes a topic until ctx is done, handing each record to handler
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
}

type Broker interface {
	Publisher
	Subscriber
	Name() string
	Health() error
	Close() error
}

type BrokerConfig interface {
	Validate() error
	GetConnectionString() string
	GetType() string
}

// Message is an outgoing record. Key selects the partition.
type Message struct {
	Topic     string
	Key       []byte
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
}

type MessageHandler func(ctx context.Context, message *IncomingMessage) error

// IncomingMessage is a record read from the stream
type IncomingMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
}

// Reply builds a message for the same topic and key as m
func (m *IncomingMessage) Reply(body []byte) *Message {
	return &Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Headers: m.Headers,
		Body:    body,
	}
}
