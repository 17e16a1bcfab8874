package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// ProducerConfig contains configuration for a Kafka producer
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// MessageHeader represents a Kafka message header
type MessageHeader struct {
	Key   string
	Value []byte
}

// MessageWriter is satisfied by *kafka.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a wrapper around the Kafka writer
type Producer struct {
	writer MessageWriter
	topic  string
	log    *logger.Logger
}

// NewProducer creates a producer writing to cfg.Topic, keyed by hash
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic), nil
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(writer MessageWriter, topic string) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		log:    logger.GetLogger("kafka.producer"),
	}
}

// ProduceMessage produces a message to the topic and waits for the write to complete
func (p *Producer) ProduceMessage(ctx context.Context, key []byte, value []byte, headers []MessageHeader) error {
	var kafkaHeaders []kafka.Header
	if len(headers) > 0 {
		kafkaHeaders = make([]kafka.Header, len(headers))
		for i, h := range headers {
			kafkaHeaders[i] = kafka.Header{Key: h.Key, Value: h.Value}
		}
	}

	message := kafka.Message{
		Key:     key,
		Value:   value,
		Headers: kafkaHeaders,
		Time:    time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.log.Errorf("Failed to produce message to %s: %v", p.topic, err)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	p.log.Debugf("Message with key %s delivered to %s", key, p.topic)
	return nil
}

// ProduceJSON produces a JSON-serialized message to the topic
func (p *Producer) ProduceJSON(ctx context.Context, key []byte, value interface{}, headers []MessageHeader) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize message to JSON: %w", err)
	}

	allHeaders := append(headers, MessageHeader{Key: "content-type", Value: []byte(ContentTypeJSON)})
	return p.ProduceMessage(ctx, key, jsonValue, allHeaders)
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	p.log.Info("Closing producer")
	return p.writer.Close()
}
