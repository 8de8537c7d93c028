package repository

import (
	"context"
	"time"

	"CryptoDaily/internal/domain/models"
	"CryptoDaily/internal/domain/repository"
	pkgkafka "CryptoDaily/pkg/kafka"
)

const barAppendedEvent = "dayline.appended"

// barPublisher is the producer surface the sink needs.
type barPublisher interface {
	PublishBatch(ctx context.Context, messages []pkgkafka.Message) error
	Close() error
}

// KafkaBarPublisher emits one event per appended bar, keyed by symbol.
type KafkaBarPublisher struct {
	producer barPublisher
	now      func() time.Time
}

var _ repository.BarSink = (*KafkaBarPublisher)(nil)

// NewKafkaBarPublisher creates the Kafka sink.
func NewKafkaBarPublisher(producer barPublisher) *KafkaBarPublisher {
	return &KafkaBarPublisher{producer: producer, now: time.Now}
}

// BarEvent is the JSON payload of a dayline.appended message.
type BarEvent struct {
	Event      string    `json:"event"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Date       string    `json:"date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	AppendedAt time.Time `json:"appended_at"`
}

func (p *KafkaBarPublisher) Name() string { return "kafka" }

func (p *KafkaBarPublisher) PublishBars(ctx context.Context, asset models.AssetRef, bars []models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	at := p.now().UTC()
	key := []byte(asset.Symbol)
	msgs := make([]pkgkafka.Message, len(bars))
	for i, b := range bars {
		msgs[i] = pkgkafka.Message{
			Key:     key,
			Headers: map[string]string{"event": barAppendedEvent},
			Value: BarEvent{
				Event:      barAppendedEvent,
				Symbol:     asset.Symbol,
				Name:       asset.Name,
				Date:       b.Date.UTC().Format("2006-01-02"),
				Open:       b.Open,
				High:       b.High,
				Low:        b.Low,
				Close:      b.Close,
				Volume:     b.Volume,
				AppendedAt: at,
			},
		}
	}
	return p.producer.PublishBatch(ctx, msgs)
}

func (p *KafkaBarPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
