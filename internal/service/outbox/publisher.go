package outbox

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// LogPublisher пишет события в лог; используется, когда брокер не настроен.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_type": event.EventType,
		"order_id":   event.AggregateID,
		"id":         event.ID,
	}).Info("domain event")
	return nil
}
