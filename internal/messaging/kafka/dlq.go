package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotReplayable: сообщение DLQ не содержит исходного события.
var ErrNotReplayable = errors.New("dlq message is not replayable")

// ReplayMessage — исходное событие, восстановленное из DLQ.
type ReplayMessage struct {
	Topic string
	Key   string
	Value []byte
}

// consumerDLQRecord пишет Consumer.sendToDLQ при исчерпании retry.
type consumerDLQRecord struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	ErrorMessage  string `json:"error_message"`
}

// outboxDLQRecord outbox worker кладёт в Envelope для DLQ.
type outboxDLQRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// TopicForAggregate возвращает topic событий агрегата или fallback для неизвестных.
func TopicForAggregate(aggregateType, fallback string) string {
	if topic, ok := aggregateTopics[aggregateType]; ok {
		return topic
	}
	return fallback
}

// DecodeDLQMessage восстанавливает исходное событие из записи DLQ.
// Записи consumer-а возвращаются в свой topic как есть; записи outbox
// заново оборачиваются в Envelope и уходят в topic своего агрегата.
func DecodeDLQMessage(value []byte, fallbackTopic string, now time.Time) (ReplayMessage, error) {
	var consumerRecord consumerDLQRecord
	if err := json.Unmarshal(value, &consumerRecord); err != nil {
		return ReplayMessage{}, fmt.Errorf("%w: %v", ErrNotReplayable, err)
	}
	if consumerRecord.OriginalValue != "" {
		topic := strings.TrimSpace(consumerRecord.OriginalTopic)
		if topic == "" || topic == TopicDeadLetterQueue {
			topic = fallbackTopic
		}
		return ReplayMessage{
			Topic: topic,
			Key:   consumerRecord.OriginalKey,
			Value: []byte(consumerRecord.OriginalValue),
		}, nil
	}

	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil || len(env.Payload) == 0 {
		return ReplayMessage{}, ErrNotReplayable
	}

	var record outboxDLQRecord
	if err := json.Unmarshal(env.Payload, &record); err != nil {
		return ReplayMessage{}, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(record.Payload) == 0 {
		return ReplayMessage{}, fmt.Errorf("%w: outbox record %s has no original payload", ErrNotReplayable, env.ID)
	}

	replay := Envelope{
		ID:            firstNonEmpty(record.OutboxID, env.ID),
		AggregateType: firstNonEmpty(record.AggregateType, env.AggregateType),
		AggregateID:   firstNonEmpty(record.AggregateID, env.AggregateID),
		EventType:     firstNonEmpty(record.EventType, env.EventType),
		Payload:       record.Payload,
		PublishedAt:   now.UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return ReplayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{
		Topic: TopicForAggregate(replay.AggregateType, fallbackTopic),
		Key:   firstNonEmpty(replay.AggregateID, replay.ID),
		Value: encoded,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
