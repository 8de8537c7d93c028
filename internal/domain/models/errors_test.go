package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAssetSyncErrorUnwrapsUpstream(t *testing.T) {
	cause := errors.New("connection reset")
	err := &AssetSyncError{Symbol: "BTCUSDT", Err: &UpstreamError{Op: "klines", Symbol: "BTCUSDT", Attempts: 3, Transient: true, Err: cause}}

	var up *UpstreamError
	assert.True(t, errors.As(err, &up))
	assert.Equal(t, 3, up.Attempts)
	assert.True(t, up.Retryable())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sync BTCUSDT: upstream klines BTCUSDT failed after 3 attempt(s): connection reset", err.Error())
}

func TestStorageErrorIsAppendConflict(t *testing.T) {
	err := &StorageError{Op: "append", Symbol: "ETHUSDT", Err: ErrAppendConflict}
	assert.ErrorIs(t, err, ErrAppendConflict)
	assert.Equal(t, "storage append ETHUSDT: dayline append conflict", err.Error())
}

func TestFetchRange(t *testing.T) {
	full := FullRange()
	assert.True(t, full.IsFull())
	_, ok := full.Since()
	assert.False(t, ok)
	assert.Equal(t, "full", full.String())

	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	from := FromRange(day)
	assert.False(t, from.IsFull())
	got, ok := from.Since()
	assert.True(t, ok)
	assert.True(t, got.Equal(day))
	assert.Equal(t, "from 2024-03-02", from.String())
}

func TestSyncReportRecord(t *testing.T) {
	r := NewSyncReport(time.Now())
	r.Record("A", OutcomeUpdated, 5, nil)
	r.Record("B", OutcomeFresh, 0, nil)
	r.Record("C", OutcomeFailed, 0, errors.New("boom"))
	r.Record("D", OutcomeEmpty, 0, nil)

	assert.Equal(t, 4, r.Total)
	assert.Equal(t, 1, r.Updated)
	assert.Equal(t, 1, r.Fresh)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Empty)
	assert.Equal(t, 5, r.BarsAppended)
	assert.Equal(t, "boom", r.Failures["C"])
}
