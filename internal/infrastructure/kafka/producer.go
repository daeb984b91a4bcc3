package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/observability/logctx"
)

const peerKafka = "kafka"

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer writes JSON-encoded events to one topic, keyed for per-order ordering.
type Producer struct {
	writer MessageWriter
	topic  string

	log     observability.Logger
	counter observability.Counter   // external_requests_total{peer,endpoint,outcome}
	latency observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewProducer(writer MessageWriter, topic string, tel observability.Observability) *Producer {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Producer{
		writer:  writer,
		topic:   topic,
		log:     tel.Logger().With(observability.F("component", "kafka_producer"), observability.F("topic", topic)),
		counter: tel.Metrics().Counter(observability.MExternalRequests),
		latency: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Send publishes payload under key with the event name as a header.
func (p *Producer) Send(ctx context.Context, key, eventName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", eventName, err)
	}
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event", Value: []byte(eventName)},
		},
		Time: time.Now().UTC(),
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.counter.Add(1,
		observability.L("peer", peerKafka),
		observability.L("endpoint", p.topic),
		observability.L("outcome", outcome),
	)
	p.latency.Observe(time.Since(start).Seconds(),
		observability.L("peer", peerKafka),
		observability.L("endpoint", p.topic),
	)
	if err != nil {
		logctx.FromOr(ctx, p.log).Warn("kafka_write_failed",
			observability.F("event", eventName),
			observability.F("key", key),
			observability.F("error", err),
		)
		return fmt.Errorf("kafka: write %s: %w", eventName, err)
	}
	logctx.FromOr(ctx, p.log).Debug("kafka_message_sent",
		observability.F("event", eventName),
		observability.F("key", key),
	)
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
