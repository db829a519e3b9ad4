package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в topic своего агрегата.
type OutboxTopicPublisher struct {
	producer *Producer
	fallback string
	// fixed, если задан, направляет все сообщения в один topic (DLQ).
	fixed string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// fallback используется для агрегатов без собственного topic.
func NewOutboxPublisher(producer *Producer, fallback string) domain.OutboxPublisher {
	if fallback == "" {
		fallback = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		fallback: fallback,
	}
}

// NewDLQPublisher создаёт паблишер, который отправляет все сообщения в TopicDeadLetterQueue.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{
		producer: producer,
		fallback: TopicDeadLetterQueue,
		fixed:    TopicDeadLetterQueue,
	}
}

// TopicFor возвращает topic для типа агрегата.
func (p *OutboxTopicPublisher) TopicFor(aggregateType string) string {
	if p.fixed != "" {
		return p.fixed
	}
	return TopicForAggregate(aggregateType, p.fallback)
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	// Ключ по агрегату сохраняет порядок событий одного заказа внутри partition.
	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.TopicFor(event.AggregateType), key, envelope)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
