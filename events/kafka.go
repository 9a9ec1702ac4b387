package events

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/warp/intake-ledger/intake"
)

// producer is the subset of *kgo.Client used for publishing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher produces one record per event. Records are keyed by date
// so every change to one day's total lands on the same partition in order.
type KafkaPublisher struct {
	client producer
	topic  string
}

// NewKafkaPublisher connects a producer to brokers. Extra options are
// appended after the defaults.
func NewKafkaPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("intake-ledger"),
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: cl, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt intake.Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(evt.Date.String()),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes nothing; ProduceSync already waited for every record.
func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}

var _ intake.Publisher = (*KafkaPublisher)(nil)
