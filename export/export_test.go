package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/intake/store"
)

func sampleEntries() []intake.Entry {
	ts := time.Date(2026, 2, 3, 7, 45, 0, 0, time.UTC)
	return []intake.Entry{
		{
			ID: "e-1", Timestamp: ts, Date: intake.MustParseDate("2026-02-03"),
			MealType: intake.MealBreakfast, Item: "banana", Quantity: "1",
			Calories: decimal.NewFromInt(105), Confidence: decimal.RequireFromString("0.9"),
			Source: "chat", RawText: "a banana, ripe",
		},
		{
			ID: "e-2", Timestamp: ts, Date: intake.MustParseDate("2026-02-03"),
			MealType: intake.MealBreakfast, Item: "coffee",
			Calories: decimal.RequireFromString("2.5"),
		},
	}
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleEntries()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"e-1", "2026-02-03T07:45:00.000Z", "2026-02-03", "breakfast", "banana", "1", "105.00", "0.90", "chat", "a banana, ripe"}, rows[1])
	assert.Equal(t, "2.50", rows[2][6])
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleEntries()))

	var records []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "banana", records[0].Item)
	assert.Equal(t, "105.00", records[0].Calories)
}

func TestWrite_EmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.True(t, intake.IsClientError(err))
}

// =============================================================================
// SINKS
// =============================================================================

func TestFSSink_Put(t *testing.T) {
	root := t.TempDir()
	sink, err := NewFSSink(root)
	require.NoError(t, err)

	obj, err := sink.Put(context.Background(), "exports/a.csv", []byte("x,y\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "exports/a.csv", obj.Key)
	assert.Equal(t, int64(4), obj.Size)

	data, err := os.ReadFile(filepath.Join(root, "exports", "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(data))

	_, err = sink.Put(context.Background(), "../escape.csv", nil, "")
	assert.Error(t, err)
	_, err = sink.Put(context.Background(), "/abs.csv", nil, "")
	assert.Error(t, err)
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	body   []byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.inputs = append(f.inputs, in)
	if in.Body != nil {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(in.Body)
		f.body = buf.Bytes()
	}
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Sink_Put(t *testing.T) {
	fake := &fakeS3{}
	sink := newS3Sink(fake, "intake-exports", "/tenant-a/")

	obj, err := sink.Put(context.Background(), "exports/x.json", []byte(`[]`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a/exports/x.json", obj.Key)
	assert.Equal(t, int64(2), obj.Size)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "intake-exports", aws.ToString(in.Bucket))
	assert.Equal(t, "tenant-a/exports/x.json", aws.ToString(in.Key))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))
	assert.Equal(t, "[]", string(fake.body))
}

func TestS3Sink_PutError(t *testing.T) {
	sink := newS3Sink(&fakeS3{err: errors.New("denied")}, "b", "")
	_, err := sink.Put(context.Background(), "k", []byte("x"), "")
	assert.ErrorContains(t, err, "denied")
}

func TestNewS3Sink_RequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{})
	assert.Error(t, err)
}

// =============================================================================
// EXPORTER
// =============================================================================

func TestExporter_Export(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	o := intake.NewOrchestrator(mem)
	_, err := o.Log(ctx, intake.LogCommand{
		Date:     intake.MustParseDate("2026-02-03"),
		MealType: intake.MealLunch,
		Items:    []intake.LogItem{{Name: "curry", Calories: decimal.NewFromInt(640)}},
	})
	require.NoError(t, err)

	sink := NewMemorySink()
	x := NewExporter(mem, sink)
	r := intake.DateRange{Start: intake.MustParseDate("2026-02-01"), End: intake.MustParseDate("2026-02-07")}

	obj, err := x.Export(ctx, r, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "exports/2026-02-01_2026-02-07.csv", obj.Key)

	body, ok := sink.Get(obj.Key)
	require.True(t, ok)
	assert.Equal(t, obj.Size, int64(len(body)))
	assert.Contains(t, string(body), "curry")
}

func TestExporter_NoSink(t *testing.T) {
	x := NewExporter(store.NewMemory(), nil)
	_, err := x.Export(context.Background(), intake.DateRange{}, FormatCSV)
	assert.ErrorIs(t, err, ErrNoSink)
}
