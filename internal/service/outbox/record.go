package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// Record сериализует событие заказа и кладёт его в outbox. Без репозитория ничего не делает.
func Record(ctx context.Context, repo domain.OutboxRepository, eventType, orderID string, payload any) error {
	if repo == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if _, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       raw,
	}); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrOutboxPublish, eventType, err)
	}
	return nil
}
