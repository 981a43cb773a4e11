package repository

import (
	"context"

	"PerpCast/internal/domain/models"
	domrepo "PerpCast/internal/domain/repository"
	pkgkafka "PerpCast/pkg/kafka"
)

// KafkaSignalPublisher pushes each fresh prediction onto a topic at
// prediction time, outcomes still pending. Downstream consumers that need
// realized returns read the durable record instead.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	symbol   string
	horizons []models.Horizon
}

// NewKafkaSignalPublisher creates a publisher keyed by market symbol.
func NewKafkaSignalPublisher(producer *pkgkafka.Producer, topic, symbol string, horizons []models.Horizon) domrepo.SignalPublisher {
	return &KafkaSignalPublisher{producer: producer, topic: topic, symbol: symbol, horizons: horizons}
}

func (p *KafkaSignalPublisher) Publish(ctx context.Context, row *models.PredictionRow) error {
	payload := map[string]interface{}{
		"symbol":      p.symbol,
		"time":        row.Time.UTC(),
		"mid":         row.Mid,
		"spread":      row.Spread,
		"p_fused":     probMap(row.Fused, p.horizons),
		"p_fused_cal": probMap(row.FusedCal, p.horizons),
	}
	for _, m := range row.Models {
		payload["p_"+m.Model] = probMap(m.Estimates, p.horizons)
	}
	return p.producer.Publish(ctx, p.topic, []byte(p.symbol), payload)
}

func (p *KafkaSignalPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// probMap renders estimates keyed by horizon label, null when unavailable.
func probMap(in map[models.Horizon]models.Estimate, horizons []models.Horizon) map[string]interface{} {
	out := make(map[string]interface{}, len(horizons))
	for _, h := range horizons {
		if e, ok := in[h]; ok && e.Available {
			out[h.Label()] = e.Prob
		} else {
			out[h.Label()] = nil
		}
	}
	return out
}
