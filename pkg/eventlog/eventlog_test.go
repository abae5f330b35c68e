package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

func ptr(v float64) *float64 { return &v }

func TestKindLabels(t *testing.T) {
	for _, k := range []Kind{Landed, Present, Left} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("bird_landed")
	require.Error(t, err)
	assert.Equal(t, "Kind(0)", Kind(0).String())
}

func TestRecordColumns(t *testing.T) {
	rec := Record{Timestamp: testTime, Mass: 30.456, Kind: Landed}
	assert.Equal(t, []string{"2026-03-14T09:26:53.589000Z", "30.46", "landed", ""}, rec.Columns())

	rec.Health = ptr(87.5)
	assert.Equal(t, "87.5", rec.Columns()[3])
}

func TestCSVSinkWritesRows(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewCSVSink(&buf, true)
	require.NoError(t, err)

	require.NoError(t, s.Record(Record{Timestamp: testTime, Mass: 30, Kind: Landed, Health: ptr(99)}))
	require.NoError(t, s.Record(Record{Timestamp: testTime, Mass: 15, Kind: Left}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,mass_grams,kind,health_level", lines[0])
	assert.Equal(t, "2026-03-14T09:26:53.589000Z,30.00,landed,99", lines[1])
	assert.Equal(t, "2026-03-14T09:26:53.589000Z,15.00,left,", lines[2])
}

func TestOpenCSVHeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")

	s, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(Record{Timestamp: testTime, Mass: 31, Kind: Present}))
	require.NoError(t, s.Close())

	s, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(Record{Timestamp: testTime, Mass: 29, Kind: Present}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,mass_grams"))
	assert.True(t, strings.HasSuffix(lines[2], ",29.00,present,"))
}

func TestOpenCSVFailure(t *testing.T) {
	_, err := OpenCSV(filepath.Join(t.TempDir(), "missing", "events.csv"))
	require.Error(t, err)
}

func TestMultiMirrorsAndIgnoresMirrorErrors(t *testing.T) {
	primary := &MemorySink{}
	mirror := &MemorySink{RecordErr: errors.New("broker down")}
	healthy := &MemorySink{}

	m := NewMulti(primary, nil, mirror, healthy)
	require.NoError(t, m.Record(Record{Kind: Landed}))
	require.NoError(t, m.Flush())
	require.NoError(t, m.Close())

	assert.Len(t, primary.Records(), 1)
	assert.Empty(t, mirror.Records())
	assert.Len(t, healthy.Records(), 1)
	assert.True(t, primary.Closed)
	assert.True(t, mirror.Closed)
	assert.Equal(t, 1, primary.Flushes)
}

func TestMultiPrimaryErrorStopsMirroring(t *testing.T) {
	primary := &MemorySink{RecordErr: errors.New("disk full")}
	mirror := &MemorySink{}

	m := NewMulti(primary, nil, mirror)
	require.Error(t, m.Record(Record{Kind: Left}))
	assert.Empty(t, mirror.Records())
}

func TestFormatPayload(t *testing.T) {
	payload, err := FormatPayload(Record{Timestamp: testTime, Mass: 42.5, Kind: Present, Health: ptr(50)}, "AA:BB")
	require.NoError(t, err)

	var parsed Payload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "2026-03-14T09:26:53.589Z", parsed.Timestamp)
	assert.Equal(t, 42.5, parsed.MassGrams)
	assert.Equal(t, "present", parsed.Kind)
	require.NotNil(t, parsed.Health)
	assert.Equal(t, 50.0, *parsed.Health)
	assert.Equal(t, "AA:BB", parsed.DeviceID)

	payload, err = FormatPayload(Record{Timestamp: testTime, Kind: Left}, "")
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "health_level")
	assert.NotContains(t, string(payload), "device_id")
}

func TestMQTTSinkPublishes(t *testing.T) {
	var published [][]byte
	s := &MQTTSink{publish: func(p []byte) error {
		published = append(published, p)
		return nil
	}}

	require.NoError(t, s.Record(Record{Timestamp: testTime, Mass: 30, Kind: Landed}))
	require.Len(t, published, 1)
	assert.Contains(t, string(published[0]), `"kind":"landed"`)

	s.publish = func([]byte) error { return errors.New("publish timeout") }
	require.Error(t, s.Record(Record{Kind: Left}))
	require.NoError(t, s.Close())
}

type fakeExecer struct {
	sql  []string
	args [][]any
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresSinkInserts(t *testing.T) {
	db := &fakeExecer{}
	s := &PostgresSink{db: db, deviceID: "AA:BB"}

	require.NoError(t, s.migrate(context.Background()))
	require.NoError(t, s.Record(Record{Timestamp: testTime, Mass: 30, Kind: Landed, Health: ptr(80)}))

	require.Len(t, db.sql, 2)
	assert.Contains(t, db.sql[0], "CREATE TABLE IF NOT EXISTS occupancy_events")
	assert.Equal(t, pgInsert, db.sql[1])
	assert.Equal(t, []any{testTime, 30.0, "landed", ptr(80), "AA:BB"}, db.args[1])

	db.err = errors.New("connection reset")
	require.Error(t, s.Record(Record{Kind: Left}))
	require.NoError(t, s.Close())
}
