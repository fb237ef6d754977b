package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"order-payment-service/models"
	awspkg "order-payment-service/pkg/aws"
)

// Webhook callback outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Reconciliation anomaly reasons.
const (
	AnomalyUnknownOrder    = "unknown_order"
	AnomalyInvoiceMismatch = "invoice_mismatch"
	AnomalyUnknownStatus   = "unknown_status"
	AnomalyLateCallback    = "late_callback"
	AnomalyBadSignature    = "bad_signature"
)

var (
	ordersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	orderStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_changes_total",
			Help: "Effective order status changes by new status",
		},
		[]string{"status"},
	)

	webhookCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_total",
			Help: "Payment gateway callbacks by outcome",
		},
		[]string{"outcome"},
	)

	reconciliationAnomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_anomalies_total",
			Help: "Callbacks that could not be reconciled with an order",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(ordersCreatedTotal, orderStatusChangesTotal, webhookCallbacksTotal, reconciliationAnomaliesTotal)
}

// Recorder counts business events in Prometheus and, when enabled, mirrors
// them to CloudWatch. A nil Recorder is a no-op.
type Recorder struct {
	cloudWatch *awspkg.MetricsClient
	service    string
	logger     *zap.Logger
}

func NewRecorder(cloudWatch *awspkg.MetricsClient, service string, logger *zap.Logger) *Recorder {
	return &Recorder{cloudWatch: cloudWatch, service: service, logger: logger}
}

func (r *Recorder) OrderCreated(order *models.Order) {
	if r == nil {
		return
	}
	ordersCreatedTotal.Inc()
	r.forward(awspkg.MetricOrdersCreated, map[string]string{"Currency": order.Currency})
}

func (r *Recorder) StatusChanged(from, to models.OrderStatus) {
	if r == nil {
		return
	}
	orderStatusChangesTotal.WithLabelValues(string(to)).Inc()

	switch to {
	case models.OrderStatusCompleted:
		r.forward(awspkg.MetricOrdersCompleted, nil)
		r.forward(awspkg.MetricPaymentSucceeded, map[string]string{"From": string(from)})
	case models.OrderStatusExpired:
		r.forward(awspkg.MetricOrdersExpired, nil)
	case models.OrderStatusFailed:
		r.forward(awspkg.MetricOrdersFailed, nil)
		r.forward(awspkg.MetricPaymentFailed, nil)
	}
}

func (r *Recorder) Callback(outcome string) {
	if r == nil {
		return
	}
	webhookCallbacksTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Anomaly(reason string) {
	if r == nil {
		return
	}
	reconciliationAnomaliesTotal.WithLabelValues(reason).Inc()
	r.forward(awspkg.MetricWebhookAnomalies, map[string]string{"Reason": reason})
}

func (r *Recorder) forward(name string, dims map[string]string) {
	if !r.cloudWatch.IsEnabled() {
		return
	}
	if dims == nil {
		dims = map[string]string{}
	}
	dims["Service"] = r.service

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.cloudWatch.RecordCount(ctx, name, dims); err != nil {
			r.logger.Debug("CloudWatch metric not recorded", zap.String("metric", name), zap.Error(err))
		}
	}()
}
