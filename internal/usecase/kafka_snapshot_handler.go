package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"GateKeeper/internal/domain/models"
	domrepo "GateKeeper/internal/domain/repository"
	"GateKeeper/internal/middleware"
	pkgkafka "GateKeeper/pkg/kafka"
	pkgmetrics "GateKeeper/pkg/metrics"
)

// KafkaSnapshotHandler consumes CycleInput messages and feeds the pipeline.
type KafkaSnapshotHandler struct {
	topic   string
	proc    middleware.Proc
	metrics domrepo.Metrics
}

func NewKafkaSnapshotHandler(topic string, proc middleware.Proc, metrics domrepo.Metrics) *KafkaSnapshotHandler {
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &KafkaSnapshotHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaSnapshotHandler) Topic() string { return h.topic }

// Handle decodes one message. A bare snapshot without the CycleInput envelope
// is accepted too. Undecodable payloads are dropped with a nil error so the
// consumer does not retry them.
func (h *KafkaSnapshotHandler) Handle(ctx context.Context, b []byte) error {
	in, err := decodeCycleInput(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	if !in.Snapshot.At.IsZero() {
		h.metrics.RecordLatency("ingest_e2e", time.Since(in.Snapshot.At).Seconds())
	}

	// the pipeline buffers downstream failures itself; a consumer retry would
	// process the same input twice
	err = h.proc.Process(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, middleware.ErrInvalidInput):
		h.metrics.RecordError("consumer_invalid")
	default:
		h.metrics.RecordError("consumer_downstream")
	}
	return nil
}

func decodeCycleInput(b []byte) (*models.CycleInput, error) {
	var probe struct {
		Snapshot json.RawMessage `json:"snapshot"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("decode cycle input: %w", err)
	}
	var in models.CycleInput
	if len(probe.Snapshot) > 0 {
		if err := json.Unmarshal(b, &in); err != nil {
			return nil, fmt.Errorf("decode cycle input: %w", err)
		}
		return &in, nil
	}
	if err := json.Unmarshal(b, &in.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &in, nil
}

var _ pkgkafka.MessageHandler = (*KafkaSnapshotHandler)(nil)
