package dispatch

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"smsdispatch/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits dispatch telemetry with PutMetricData. It is used
// by the cron dispatcher, where there is no scrape endpoint.
//
//	DispatchAttempt   {Provider, Result}  one per attempt
//	GatewayLatency    {Provider}          milliseconds
//	SchedulerRun      {Trigger}           processed count
//	SchedulerDeferred {Trigger}           deferred count
//	ReclaimedMessages                     reset count
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics publishes into namespace, or types.MetricNamespace when empty.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, provider types.GatewayProvider, result Result) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDispatchAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(string(provider))},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	})
}

func (m *CloudWatchMetrics) RecordGatewayLatency(ctx context.Context, provider types.GatewayProvider, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricGatewayLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(string(provider))},
		},
	})
}

func (m *CloudWatchMetrics) RecordSchedulerRun(ctx context.Context, trigger string, processed, deferred int) {
	dims := []cwtypes.Dimension{{Name: aws.String(types.DimTrigger), Value: aws.String(trigger)}}
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricSchedulerRun),
			Value:      aws.Float64(float64(processed)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricSchedulerDefer),
			Value:      aws.Float64(float64(deferred)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	)
}

func (m *CloudWatchMetrics) RecordReclaimed(ctx context.Context, n int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricReclaimedMessage),
		Value:      aws.Float64(float64(n)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDispatch(context.Context, types.GatewayProvider, Result)              {}
func (NoopMetrics) RecordGatewayLatency(context.Context, types.GatewayProvider, time.Duration) {}
func (NoopMetrics) RecordSchedulerRun(context.Context, string, int, int)                       {}
func (NoopMetrics) RecordReclaimed(context.Context, int)                                       {}
