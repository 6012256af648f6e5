package metrics

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/kanekoshoyu/anysignal/logger"
)

type metricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type cloudWatchState struct {
	client    metricPutter
	namespace string
	handlerID MetricHandlerID
}

var cwState atomic.Pointer[cloudWatchState]

// InitCloudWatch starts forwarding emitted metrics to CloudWatch. When the
// AWS configuration cannot be loaded publishing stays disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	enableCloudWatch(cloudwatch.NewFromConfig(cfg), namespace)

	log.WithFields(logger.Fields{
		"region":    cfg.Region,
		"namespace": namespace,
	}).Info("initialized CloudWatch client")
}

func enableCloudWatch(client metricPutter, namespace string) {
	if namespace == "" {
		namespace = "AnySignal"
	}
	state := &cloudWatchState{client: client, namespace: namespace}
	state.handlerID = RegisterMetricHandler(func(m Metric) {
		publishMetricDatum(context.Background(), m)
	})
	if prev := cwState.Swap(state); prev != nil {
		UnregisterMetricHandler(prev.handlerID)
	}
}

// DisableCloudWatch stops publishing.
func DisableCloudWatch() {
	if prev := cwState.Swap(nil); prev != nil {
		UnregisterMetricHandler(prev.handlerID)
	}
}

func publishMetricDatum(ctx context.Context, m Metric) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}
	value, ok := toFloat64(m.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": m.Name}).Debug("non-numeric metric value; skipping publish")
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// string fields only; CloudWatch caps dimensions at 30
		if s, ok := m.Fields[k].(string); ok && s != "" && len(dims) < 30 {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	datum := cwtypes.MetricDatum{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       cwtypes.StandardUnitCount,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
		"metric":     m.Name,
		"dimensions": len(dims),
	}).Debug("published metric to CloudWatch")
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
