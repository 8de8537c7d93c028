package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"CryptoDaily/internal/domain/models"
	pkgkafka "CryptoDaily/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	msgs []pkgkafka.Message
	err  error
}

func (f *fakeProducer) PublishBatch(_ context.Context, m []pkgkafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m...)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fakeInserter struct {
	query string
	rows  [][]any
	err   error
}

func (f *fakeInserter) InsertBatch(_ context.Context, q string, rows [][]any) error {
	f.query = q
	f.rows = append(f.rows, rows...)
	return f.err
}

var btc = models.AssetRef{Name: "BTC", Symbol: "BTCUSDT"}

func testBars() []models.DailyBar {
	return []models.DailyBar{
		{Date: d1, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Date: d1.AddDate(0, 0, 1), Open: 1.5, High: 3, Low: 1, Close: 2.5, Volume: 200},
	}
}

func TestKafkaBarPublisherOneEventPerBar(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaBarPublisher(fp)
	p.now = func() time.Time { return d1.Add(time.Hour) }

	require.NoError(t, p.PublishBars(context.Background(), btc, testBars()))
	require.Len(t, fp.msgs, 2)
	assert.Equal(t, []byte("BTCUSDT"), fp.msgs[0].Key)
	assert.Equal(t, "dayline.appended", fp.msgs[0].Headers["event"])

	raw, err := json.Marshal(fp.msgs[1].Value)
	require.NoError(t, err)
	var ev BarEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "2024-03-02", ev.Date)
	assert.Equal(t, 2.5, ev.Close)
	assert.Equal(t, "BTC", ev.Name)
	assert.Equal(t, "kafka", p.Name())
}

func TestKafkaBarPublisherEmptyIsNoop(t *testing.T) {
	fp := &fakeProducer{err: errors.New("should not be called")}
	assert.NoError(t, NewKafkaBarPublisher(fp).PublishBars(context.Background(), btc, nil))
}

func TestClickHouseMirrorInsertsRows(t *testing.T) {
	fi := &fakeInserter{}
	m := NewClickHouseDaylineMirror(fi, "crypto.dayline")

	require.NoError(t, m.PublishBars(context.Background(), btc, testBars()))
	assert.Equal(t, "INSERT INTO crypto.dayline (symbol, name, date, open, high, low, close, volume)", fi.query)
	require.Len(t, fi.rows, 2)
	assert.Equal(t, []any{"BTCUSDT", "BTC", d1, 1.0, 2.0, 0.5, 1.5, 100.0}, fi.rows[0])
}

func TestClickHouseMirrorWrapsError(t *testing.T) {
	fi := &fakeInserter{err: errors.New("too many parts")}
	err := NewClickHouseDaylineMirror(fi, "crypto.dayline").PublishBars(context.Background(), btc, testBars())
	assert.ErrorContains(t, err, "clickhouse mirror BTCUSDT: too many parts")
}

func TestDaylineMirrorSchema(t *testing.T) {
	stmts := DaylineMirrorSchema("crypto", "dayline")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS crypto.dayline")
	assert.Contains(t, stmts[1], "ORDER BY (symbol, date)")
}
