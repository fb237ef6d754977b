package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"order-payment-service/models"
	awspkg "order-payment-service/pkg/aws"
)

const notifyTimeout = 5 * time.Second

// EventPublisher delivers order lifecycle events.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error
}

// Notifier fans order events out to SNS and Kafka. Each sink is optional;
// a failing sink never blocks the others.
type Notifier struct {
	sns      awspkg.SNSPublisher
	topicArn string
	kafka    EventPublisher
	logger   *zap.Logger
}

func NewNotifier(sns awspkg.SNSPublisher, topicArn string, kafka EventPublisher, logger *zap.Logger) *Notifier {
	return &Notifier{sns: sns, topicArn: topicArn, kafka: kafka, logger: logger}
}

func (n *Notifier) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	var errs []error

	if n.sns != nil && n.topicArn != "" {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if err := n.sns.Publish(ctx, n.topicArn, payload, map[string]string{"event_type": evt.Type}); err != nil {
			n.logger.Error("Failed to publish order event to SNS",
				zap.String("event_type", evt.Type),
				zap.String("order_id", evt.OrderID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}

	if n.kafka != nil {
		if err := n.kafka.PublishOrderEvent(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// notify publishes best effort on a context detached from the request, so a
// client disconnect after the write still delivers the event.
func notify(ctx context.Context, pub EventPublisher, logger *zap.Logger, evt models.OrderEvent) {
	if pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := pub.PublishOrderEvent(ctx, evt); err != nil {
		logger.Warn("Order event not delivered",
			zap.String("event_type", evt.Type),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
	}
}
