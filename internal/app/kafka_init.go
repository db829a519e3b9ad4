package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
)

// initKafkaProducer создаёт producer, если brokers заданы.
// Пустой список даёт nil, nil: сервис работает без Kafka.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// outboxPublishers выбирает, куда outbox отдаёт события: Kafka с DLQ или лог.
func outboxPublishers(producer *kafka.Producer, logger *log.Entry) (domain.OutboxPublisher, domain.OutboxPublisher) {
	if producer == nil {
		return outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher")), nil
	}
	return kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents), kafka.NewDLQPublisher(producer)
}

// startReconciliationAlerts подписывается на события платежей и поднимает alert
// по каждому payment.reconciliation_required. Без producer ничего не делает.
func startReconciliationAlerts(ctx context.Context, cfg Config, producer *kafka.Producer, logger *log.Entry) *kafka.Consumer {
	if producer == nil {
		return nil
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicPaymentEvents},
		kafka.NewReconciliationAlertHandler(logger.WithField("component", "reconciliation-alerts")),
		producer,
		cfg.KafkaMaxRetries,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create reconciliation alert consumer")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start reconciliation alert consumer")
		_ = consumer.Stop()
		return nil
	}
	return consumer
}

// stopConsumer останавливает consumer, если он был запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}

// closeKafkaProducer закрывает producer, если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
