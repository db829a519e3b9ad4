package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

type fakeOffsets struct {
	partitions []int32
	newest     map[int32]int64
}

func (f fakeOffsets) Partitions(string) ([]int32, error) { return f.partitions, nil }

func (f fakeOffsets) GetOffset(_ string, partition int32, when int64) (int64, error) {
	if when == sarama.OffsetOldest {
		return 0, nil
	}
	return f.newest[partition], nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *fakeStream) Close() error                             { return nil }

type fakeOpener map[int32][][]byte

func (f fakeOpener) Open(_ string, partition int32, offset int64) (partitionStream, error) {
	values := f[partition]
	stream := &fakeStream{
		messages: make(chan *sarama.ConsumerMessage, len(values)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for i, value := range values {
		stream.messages <- &sarama.ConsumerMessage{Partition: partition, Offset: offset + int64(i), Value: value}
	}
	return stream, nil
}

func consumerRecord(t *testing.T, topic, key, value string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"original_topic": topic,
		"original_key":   key,
		"original_value": value,
		"error_message":  "handler failed",
	})
	require.NoError(t, err)
	return raw
}

func newTestReplayer(opts options, opener fakeOpener, offsets fakeOffsets, producer sarama.SyncProducer) *replayer {
	return &replayer{
		opts:     opts,
		offsets:  offsets,
		opener:   opener,
		producer: producer,
		logger:   log.WithField("test", "dlq-replay"),
		now:      func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestParseOptions(t *testing.T) {
	env := func(key string) (string, bool) {
		if key == "KAFKA_BROKERS" {
			return " kafka-1:9092, ,kafka-2:9092 ", true
		}
		return "", false
	}

	opts, err := parseOptions([]string{"-execute", "-limit", "5"}, env)
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, opts.brokers)
	require.True(t, opts.execute)
	require.Equal(t, 5, opts.limit)
	require.Equal(t, kafka.TopicDeadLetterQueue, opts.source)

	opts, err = parseOptions([]string{"-brokers", "local:9092"}, env)
	require.NoError(t, err)
	require.Equal(t, []string{"local:9092"}, opts.brokers)
	require.False(t, opts.execute)
}

func TestParseOptions_Invalid(t *testing.T) {
	noEnv := func(string) (string, bool) { return "", false }

	_, err := parseOptions([]string{"-limit", "0", "-idle-timeout", "0s"}, noEnv)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka brokers are required")
	require.Contains(t, err.Error(), "limit must be > 0")
	require.Contains(t, err.Error(), "idle-timeout must be > 0")
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	opener := fakeOpener{0: {
		consumerRecord(t, kafka.TopicPaymentEvents, "order-1", `{"id":"evt-1"}`),
		[]byte(`not-json`),
	}}
	offsets := fakeOffsets{partitions: []int32{0}, newest: map[int32]int64{0: 2}}

	r := newTestReplayer(options{source: kafka.TopicDeadLetterQueue, fallback: kafka.TopicOrderEvents, limit: 10, idleTimeout: time.Second}, opener, offsets, nil)
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayer_ExecutePublishesToOriginalTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicPaymentEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != kafka.TopicOrderEvents {
			return errors.New("unexpected topic " + msg.Topic)
		}
		return nil
	})
	defer func() { require.NoError(t, producer.Close()) }()

	opener := fakeOpener{
		0: {consumerRecord(t, kafka.TopicPaymentEvents, "order-1", `{"id":"evt-1"}`)},
		1: {consumerRecord(t, "", "order-2", `{"id":"evt-2"}`)},
	}
	offsets := fakeOffsets{partitions: []int32{1, 0}, newest: map[int32]int64{0: 1, 1: 1}}

	r := newTestReplayer(options{source: kafka.TopicDeadLetterQueue, fallback: kafka.TopicOrderEvents, limit: 10, execute: true, idleTimeout: time.Second}, opener, offsets, producer)
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.replayed)
}

func TestReplayer_RespectsLimit(t *testing.T) {
	record := consumerRecord(t, kafka.TopicOrderEvents, "order-1", `{}`)
	opener := fakeOpener{0: {record, record, record}}
	offsets := fakeOffsets{partitions: []int32{0}, newest: map[int32]int64{0: 3}}

	r := newTestReplayer(options{source: kafka.TopicDeadLetterQueue, fallback: kafka.TopicOrderEvents, limit: 2, idleTimeout: time.Second}, opener, offsets, nil)
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.scanned)
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	r := newTestReplayer(options{execute: true, limit: 1, idleTimeout: time.Second}, fakeOpener{}, fakeOffsets{}, nil)
	_, err := r.Run(context.Background())
	require.Error(t, err)
}

func TestReplayer_EmptyPartitionIsSkipped(t *testing.T) {
	offsets := fakeOffsets{partitions: []int32{0}, newest: map[int32]int64{0: 0}}
	r := newTestReplayer(options{source: kafka.TopicDeadLetterQueue, limit: 5, idleTimeout: time.Second}, fakeOpener{}, offsets, nil)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.scanned)
}
