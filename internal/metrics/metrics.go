// Package metrics publishes checkout counters to CloudWatch.
package metrics

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

const (
	MetricOrdersCommitted = "OrdersCommitted"
	MetricCommitFailures  = "OrderCommitFailures"
	MetricOrderValue      = "OrderValue"
	MetricPaymentsSettled = "PaymentsSettled"
	MetricPaymentsFailed  = "PaymentsFailed"
)

// Recorder sends metric data. Failures are logged and never surface to callers.
type Recorder struct {
	cw        aws.CloudWatchAPI
	namespace string
	log       *zap.Logger
	nowFunc   func() time.Time
}

func NewRecorder(cw aws.CloudWatchAPI, namespace string, log *zap.Logger) *Recorder {
	return &Recorder{cw: cw, namespace: namespace, log: logging.OrNop(log), nowFunc: time.Now}
}

// CommitSucceeded counts a committed order and its value.
func (r *Recorder) CommitSucceeded(ctx context.Context, total money.Amount) {
	value, _ := total.Float64()
	r.put(ctx,
		point{MetricOrdersCommitted, 1, cwtypes.StandardUnitCount},
		point{MetricOrderValue, value, cwtypes.StandardUnitNone},
	)
}

// CommitFailed counts a commit that reached the Failed state.
func (r *Recorder) CommitFailed(ctx context.Context) {
	r.put(ctx, point{MetricCommitFailures, 1, cwtypes.StandardUnitCount})
}

// PaymentSettled counts a worker outcome.
func (r *Recorder) PaymentSettled(ctx context.Context, ok bool) {
	name := MetricPaymentsSettled
	if !ok {
		name = MetricPaymentsFailed
	}
	r.put(ctx, point{name, 1, cwtypes.StandardUnitCount})
}

type point struct {
	name  string
	value float64
	unit  cwtypes.StandardUnit
}

// put is safe on a nil Recorder.
func (r *Recorder) put(ctx context.Context, points ...point) {
	if r == nil || r.cw == nil {
		return
	}
	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(points))
	for _, p := range points {
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(p.name),
			Value:      sdkaws.Float64(p.value),
			Unit:       p.unit,
			Timestamp:  sdkaws.Time(now),
		})
	}
	_, err := r.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		r.log.Warn("put metric data failed", zap.String("namespace", r.namespace), zap.Error(err))
	}
}
