package repository

import (
	"context"
	"fmt"

	"GateKeeper/internal/domain/models"
	"GateKeeper/internal/domain/service"
)

// KafkaOrderBroker hands approved order intents to the execution service
// through a topic keyed by symbol, so intents for one symbol stay ordered.
type KafkaOrderBroker struct {
	pub   Publisher
	topic string
}

func NewKafkaOrderBroker(pub Publisher, topic string) *KafkaOrderBroker {
	return &KafkaOrderBroker{pub: pub, topic: topic}
}

func (b *KafkaOrderBroker) Submit(ctx context.Context, intent models.OrderIntent) error {
	if intent.Symbol == "" {
		return &models.RejectionError{Code: "INVALID", Reason: "order intent without symbol"}
	}
	if err := b.pub.Publish(ctx, b.topic, []byte(intent.Symbol), intent); err != nil {
		return fmt.Errorf("publish order intent %s: %w", intent.ID, err)
	}
	return nil
}

var _ service.OrderBroker = (*KafkaOrderBroker)(nil)
