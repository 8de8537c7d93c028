package models

import "time"

// AssetRef is one tradable instrument as listed by the exchange.
type AssetRef struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// DailyBar is one closed (or still open) UTC day of OHLCV data.
// Date is always normalized to UTC midnight.
type DailyBar struct {
	Date   time.Time `bson:"date" json:"date"`
	Open   float64   `bson:"open" json:"open"`
	High   float64   `bson:"high" json:"high"`
	Low    float64   `bson:"low" json:"low"`
	Close  float64   `bson:"close" json:"close"`
	Volume float64   `bson:"volume" json:"volume"`
}

// Asset is the stored document for one tracked symbol.
type Asset struct {
	Name    string     `bson:"name" json:"name"`
	Symbol  string     `bson:"symbol" json:"symbol"`
	Dayline []DailyBar `bson:"dayline" json:"dayline"`
}

// AssetState is an asset projected down to its newest stored bar.
type AssetState struct {
	Name     string
	Symbol   string
	LastDate *time.Time
}

// HasHistory reports whether at least one bar is stored.
func (s AssetState) HasHistory() bool {
	return s.LastDate != nil
}
