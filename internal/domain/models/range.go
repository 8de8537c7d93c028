package models

import (
	"fmt"
	"time"
)

// FetchRange selects which part of an asset's history is requested upstream.
// The zero value is a full-history range.
type FetchRange struct {
	since *time.Time
}

// FullRange requests the asset's entire history.
func FullRange() FetchRange {
	return FetchRange{}
}

// FromRange requests bars opening on or after since.
func FromRange(since time.Time) FetchRange {
	s := since.UTC()
	return FetchRange{since: &s}
}

// IsFull reports whether the range has no lower bound.
func (r FetchRange) IsFull() bool {
	return r.since == nil
}

// Since returns the lower bound; ok is false for a full range.
func (r FetchRange) Since() (time.Time, bool) {
	if r.since == nil {
		return time.Time{}, false
	}
	return *r.since, true
}

func (r FetchRange) String() string {
	if r.since == nil {
		return "full"
	}
	return fmt.Sprintf("from %s", r.since.Format("2006-01-02"))
}
