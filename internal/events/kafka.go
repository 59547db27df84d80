package events

import (
	"context"
	"encoding/json"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// maxBatch caps how many queued events go out in one write.
const maxBatch = 100

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaForwarder copies broker events to a Kafka topic, keyed by task id so
// one task's events stay ordered within a partition.
type KafkaForwarder struct {
	writer  messageWriter
	timeout time.Duration
	logger  Logger
}

func NewKafkaForwarder(brokers []string, topic string, logger Logger) *KafkaForwarder {
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		BatchSize:    maxBatch,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaForwarder{writer: w, timeout: 3 * time.Second, logger: logger}
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}

func (f *KafkaForwarder) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kgo.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kgo.Message{
			Key:   []byte(e.TaskID),
			Value: b,
			Time:  e.At,
		})
	}

	// small timeout so a dead broker cannot stall the forwarder
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	return f.writer.WriteMessages(cctx, msgs...)
}

// Run forwards events from sub until its channel closes or ctx is done.
// Whatever is already queued behind an event goes out in the same write.
// Write failures are logged and the batch is dropped.
func (f *KafkaForwarder) Run(ctx context.Context, sub *Subscription) {
	f.logger.Infof("Kafka forwarder started")
	defer f.logger.Infof("Kafka forwarder stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			batch, open := drain(sub.C, []Event{e})
			if err := f.Publish(ctx, batch...); err != nil {
				f.logger.Errorf("publish %d events: %v", len(batch), err)
			}
			if !open {
				return
			}
		}
	}
}

// drain appends queued events to batch without blocking. It reports false
// once ch is closed.
func drain(ch <-chan Event, batch []Event) ([]Event, bool) {
	for len(batch) < maxBatch {
		select {
		case e, ok := <-ch:
			if !ok {
				return batch, false
			}
			batch = append(batch, e)
		default:
			return batch, true
		}
	}
	return batch, true
}
