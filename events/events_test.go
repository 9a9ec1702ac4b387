package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/warp/intake-ledger/intake"
)

func sampleEvent() intake.Event {
	prev := intake.MustParseDate("2026-02-03")
	return intake.Event{
		Type:          intake.EventEntryUpdated,
		EntryIDs:      []intake.EntryID{"e-1"},
		Date:          intake.MustParseDate("2026-02-04"),
		PreviousDate:  &prev,
		Delta:         decimal.RequireFromString("250"),
		TotalCalories: decimal.RequireFromString("250.5"),
		At:            time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	// GIVEN an update that moved an entry between dates
	evt := sampleEvent()

	// WHEN it is encoded
	body, err := Encode(evt)
	require.NoError(t, err)

	// THEN amounts are two-place strings and previous_date is present
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "entry.updated", m["type"])
	assert.Equal(t, []any{"e-1"}, m["entry_ids"])
	assert.Equal(t, "2026-02-04", m["date"])
	assert.Equal(t, "2026-02-03", m["previous_date"])
	assert.Equal(t, "250.00", m["delta"])
	assert.Equal(t, "250.50", m["total_calories"])
	assert.Equal(t, "2026-02-03T12:30:00.000Z", m["at"])
}

func TestEncode_OmitsPreviousDate(t *testing.T) {
	evt := sampleEvent()
	evt.Type = intake.EventEntryCreated
	evt.PreviousDate = nil

	body, err := Encode(evt)
	require.NoError(t, err)

	assert.NotContains(t, string(body), "previous_date")
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: log.New(&buf, "", 0)}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	assert.Contains(t, buf.String(), "[Events]")
	assert.Contains(t, buf.String(), `"type":"entry.updated"`)
}

// =============================================================================
// KAFKA
// =============================================================================

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaPublisher_KeysByDate(t *testing.T) {
	// GIVEN a publisher backed by a recording producer
	fp := &fakeProducer{}
	p := &KafkaPublisher{client: fp, topic: "intake.entries"}

	// WHEN an event is published
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	// THEN one record carries the date key and the event type header
	require.Len(t, fp.records, 1)
	rec := fp.records[0]
	assert.Equal(t, "intake.entries", rec.Topic)
	assert.Equal(t, "2026-02-04", string(rec.Key))
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "entry.updated", string(rec.Headers[0].Value))

	var m Message
	require.NoError(t, json.Unmarshal(rec.Value, &m))
	assert.Equal(t, "250.00", m.Delta)

	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
}

func TestKafkaPublisher_ProduceError(t *testing.T) {
	fp := &fakeProducer{err: errors.New("broker down")}
	p := &KafkaPublisher{client: fp, topic: "t"}

	err := p.Publish(context.Background(), sampleEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaPublisher_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	assert.Error(t, err)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

// =============================================================================
// RABBITMQ
// =============================================================================

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	sent   []published
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisher_RoutesByType(t *testing.T) {
	// GIVEN a publisher on exchange intake.events with prefix "entries"
	ch := &fakeChannel{}
	p := &RabbitPublisher{ch: ch, exchange: "intake.events", routingKey: "entries"}

	// WHEN an update event is published
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	// THEN it is routed as entries.entry.updated with a JSON body
	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "intake.events", got.exchange)
	assert.Equal(t, "entries.entry.updated", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp091.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "2026-02-04", got.msg.Headers["date"])

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestRabbitPublisher_EmptyPrefix(t *testing.T) {
	p := &RabbitPublisher{routingKey: ""}
	assert.Equal(t, "entry.created", p.RoutingKey(intake.Event{Type: intake.EventEntryCreated}))
}
