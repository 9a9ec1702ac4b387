/*
Package events delivers the ledger change feed to downstream consumers.

PURPOSE:
  Every completed create/update/delete is published as one JSON message.
  Consumers (analytics, notifications, replicas) see which entries changed,
  which date's total moved, by how much, and the resulting total.

WIRE FORMAT:
  {
    "type": "entry.updated",
    "entry_ids": ["..."],
    "date": "2026-02-04",
    "previous_date": "2026-02-03",   // only when an update moved dates
    "delta": "250.00",
    "total_calories": "250.00",
    "at": "2026-02-03T12:30:00.000Z"
  }

  Decimal amounts are strings with two places so no consumer has to parse
  binary floats.

PUBLISHERS:
  LogPublisher:    writes one log line per event
  KafkaPublisher:  franz-go producer, keyed by date
  RabbitPublisher: amqp091 topic exchange, routing key <prefix>.<type>

DELIVERY:
  Best effort. The orchestrator logs publish failures and never fails a
  mutation because of them.
*/
package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/warp/intake-ledger/intake"
)

// Message is the JSON representation of an intake.Event.
type Message struct {
	Type          string   `json:"type"`
	EntryIDs      []string `json:"entry_ids"`
	Date          string   `json:"date"`
	PreviousDate  string   `json:"previous_date,omitempty"`
	Delta         string   `json:"delta"`
	TotalCalories string   `json:"total_calories"`
	At            string   `json:"at"`
}

// NewMessage converts evt to its wire shape.
func NewMessage(evt intake.Event) Message {
	ids := make([]string, 0, len(evt.EntryIDs))
	for _, id := range evt.EntryIDs {
		ids = append(ids, string(id))
	}
	m := Message{
		Type:          string(evt.Type),
		EntryIDs:      ids,
		Date:          evt.Date.String(),
		Delta:         evt.Delta.StringFixed(intake.Scale),
		TotalCalories: evt.TotalCalories.StringFixed(intake.Scale),
		At:            intake.FormatTimestamp(evt.At),
	}
	if evt.PreviousDate != nil {
		m.PreviousDate = evt.PreviousDate.String()
	}
	return m
}

// Encode renders evt as JSON.
func Encode(evt intake.Event) ([]byte, error) {
	return json.Marshal(NewMessage(evt))
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

// LogPublisher writes events to a logger (the standard logger if nil).
type LogPublisher struct {
	Logger *log.Logger
}

func (p LogPublisher) Publish(_ context.Context, evt intake.Event) error {
	body, err := Encode(evt)
	if err != nil {
		return err
	}
	if p.Logger != nil {
		p.Logger.Printf("[Events] %s", body)
	} else {
		log.Printf("[Events] %s", body)
	}
	return nil
}

var _ intake.Publisher = LogPublisher{}
