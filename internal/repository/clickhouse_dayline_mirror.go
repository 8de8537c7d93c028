package repository

import (
	"context"
	"fmt"

	"CryptoDaily/internal/domain/models"
	"CryptoDaily/internal/domain/repository"
)

// batchInserter is the ClickHouse client surface the mirror needs.
type batchInserter interface {
	InsertBatch(ctx context.Context, query string, rows [][]any) error
}

// ClickHouseDaylineMirror copies appended bars into an analytic table.
type ClickHouseDaylineMirror struct {
	db    batchInserter
	table string
}

var _ repository.BarSink = (*ClickHouseDaylineMirror)(nil)

// NewClickHouseDaylineMirror writes into table (database-qualified).
func NewClickHouseDaylineMirror(db batchInserter, table string) *ClickHouseDaylineMirror {
	return &ClickHouseDaylineMirror{db: db, table: table}
}

// DaylineMirrorSchema returns idempotent DDL for the mirror table. ReplacingMergeTree
// collapses a bar re-sent after a partial failure.
func DaylineMirrorSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	symbol String,
	name LowCardinality(String),
	date Date,
	open Float64,
	high Float64,
	low Float64,
	close Float64,
	volume Float64,
	inserted_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(inserted_at)
ORDER BY (symbol, date)`, database, table),
	}
}

func (m *ClickHouseDaylineMirror) Name() string { return "clickhouse" }

func (m *ClickHouseDaylineMirror) PublishBars(ctx context.Context, asset models.AssetRef, bars []models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([][]any, len(bars))
	for i, b := range bars {
		rows[i] = []any{asset.Symbol, asset.Name, b.Date.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume}
	}
	if err := m.db.InsertBatch(ctx, m.insertQuery(), rows); err != nil {
		return fmt.Errorf("clickhouse mirror %s: %w", asset.Symbol, err)
	}
	return nil
}

func (m *ClickHouseDaylineMirror) insertQuery() string {
	return fmt.Sprintf("INSERT INTO %s (symbol, name, date, open, high, low, close, volume)", m.table)
}

// Close is a no-op; the connection pool is owned by the client.
func (m *ClickHouseDaylineMirror) Close() error { return nil }
