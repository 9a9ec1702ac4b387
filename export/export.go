// Package export renders entries as CSV or JSON documents and stores them
// in a blob sink.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/warp/intake-ledger/intake"
)

// Format is an export document format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json" (any case). Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", &intake.ValidationError{Field: "format", Reason: fmt.Sprintf("must be csv or json, got %q", s)}
}

// ContentType is the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Ext is the file extension for the format.
func (f Format) Ext() string { return string(f) }

// Record is the exported shape of one entry.
type Record struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Date       string `json:"date"`
	MealType   string `json:"meal_type"`
	Item       string `json:"item"`
	Quantity   string `json:"quantity"`
	Calories   string `json:"calories"`
	Confidence string `json:"confidence"`
	Source     string `json:"source"`
	RawText    string `json:"raw_text"`
}

var csvHeader = []string{"id", "timestamp", "date", "meal_type", "item", "quantity", "calories", "confidence", "source", "raw_text"}

func toRecord(e intake.Entry) Record {
	return Record{
		ID:         string(e.ID),
		Timestamp:  intake.FormatTimestamp(e.Timestamp),
		Date:       e.Date.String(),
		MealType:   string(e.MealType),
		Item:       e.Item,
		Quantity:   e.Quantity,
		Calories:   e.Calories.StringFixed(intake.Scale),
		Confidence: e.Confidence.StringFixed(intake.Scale),
		Source:     e.Source,
		RawText:    e.RawText,
	}
}

// Write renders entries to w in the given format.
func Write(w io.Writer, format Format, entries []intake.Entry) error {
	switch format {
	case FormatJSON:
		records := make([]Record, 0, len(entries))
		for _, e := range entries {
			records = append(records, toRecord(e))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatCSV:
		return writeCSV(w, entries)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

func writeCSV(w io.Writer, entries []intake.Entry) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		r := toRecord(e)
		row := []string{
			r.ID, r.Timestamp, r.Date, r.MealType, r.Item,
			r.Quantity, r.Calories, r.Confidence, r.Source, r.RawText,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// =============================================================================
// EXPORTER - Render a range and store it
// =============================================================================

// EntryLister is the read side the exporter needs.
type EntryLister interface {
	ListEntries(ctx context.Context, f intake.EntryFilter) ([]intake.Entry, error)
}

type Exporter struct {
	Entries EntryLister
	Sink    Sink
}

func NewExporter(entries EntryLister, sink Sink) *Exporter {
	return &Exporter{Entries: entries, Sink: sink}
}

// Key is the blob key for an export of r.
func Key(r intake.DateRange, format Format) string {
	return fmt.Sprintf("exports/%s_%s.%s", r.Start, r.End, format.Ext())
}

// Export renders every entry in r and writes it to the sink.
func (x *Exporter) Export(ctx context.Context, r intake.DateRange, format Format) (Object, error) {
	if x.Sink == nil {
		return Object{}, ErrNoSink
	}
	entries, err := x.Entries.ListEntries(ctx, intake.EntryFilter{Range: &r})
	if err != nil {
		return Object{}, err
	}

	var buf bytes.Buffer
	if err := Write(&buf, format, entries); err != nil {
		return Object{}, fmt.Errorf("render export: %w", err)
	}
	return x.Sink.Put(ctx, Key(r, format), buf.Bytes(), format.ContentType())
}
