package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

type options struct {
	brokers     []string
	source      string
	fallback    string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// offsetReader отдаёт границы partition. Реализуется sarama.Client.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, when int64) (int64, error)
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	Open(topic string, partition int32, offset int64) (partitionStream, error)
}

type saramaOpener struct {
	consumer sarama.Consumer
}

func (o saramaOpener) Open(topic string, partition int32, offset int64) (partitionStream, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

// replayer сканирует DLQ от старых сообщений к новым и возвращает исходные события в их topic.
type replayer struct {
	opts     options
	offsets  offsetReader
	opener   partitionOpener
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.WithError(err).Error("dlq replay failed")
		os.Exit(1)
	}
}

func parseOptions(args []string, lookup func(string) (string, bool)) (options, error) {
	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)

	var brokers string
	opts := options{}
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&opts.source, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.fallback, "fallback-topic", kafka.TopicOrderEvents, "topic for events of unknown aggregates")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish replayed events; dry-run by default")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers, _ = lookup("KAFKA_BROKERS")
	}
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			opts.brokers = append(opts.brokers, broker)
		}
	}

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)"))
	}
	if strings.TrimSpace(opts.source) == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return opts, errors.Join(errs...)
}

func run(ctx context.Context, opts options) error {
	cfg := sarama.NewConfig()
	cfg.ClientID = "storefront-dlq-replay"
	cfg.Consumer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	r := &replayer{
		opts:    opts,
		offsets: client,
		opener:  saramaOpener{consumer: consumer},
		logger:  log.WithField("component", "dlq-replay"),
		now:     time.Now,
	}
	if opts.execute {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("create kafka producer: %w", err)
		}
		defer producer.Close()
		r.producer = producer
	}

	_, err = r.Run(ctx)
	return err
}

func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.opts.execute && r.producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.offsets.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.source, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if total.scanned >= r.opts.limit {
			break
		}
		stats, err := r.replayPartition(ctx, partition, r.opts.limit-total.scanned)
		total.scanned += stats.scanned
		total.replayed += stats.replayed
		total.skipped += stats.skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":  r.opts.execute,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	// newest — offset следующего сообщения, новые записи во время replay не читаем.
	newest, err := r.offsets.GetOffset(r.opts.source, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	stream, err := r.opener.Open(r.opts.source, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumerErr := <-stream.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, consumerErr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)
			stats.scanned++

			switch err := r.replayOne(msg); {
			case err == nil:
				stats.replayed++
			case errors.Is(err, kafka.ErrNotReplayable):
				stats.skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			default:
				return stats, err
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) replayOne(msg *sarama.ConsumerMessage) error {
	replay, err := kafka.DecodeDLQMessage(msg.Value, r.opts.fallback, r.now())
	if err != nil {
		if !errors.Is(err, kafka.ErrNotReplayable) {
			err = fmt.Errorf("%w: %v", kafka.ErrNotReplayable, err)
		}
		return err
	}

	fields := log.Fields{
		"offset": msg.Offset,
		"topic":  replay.Topic,
		"key":    replay.Key,
	}
	if !r.opts.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}

	_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: replay.Topic,
		Key:   sarama.StringEncoder(replay.Key),
		Value: sarama.ByteEncoder(replay.Value),
	})
	if err != nil {
		return fmt.Errorf("publish replay to %s: %w", replay.Topic, err)
	}
	r.logger.WithFields(fields).Info("dlq message replayed")
	return nil
}
