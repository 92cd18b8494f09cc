package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsPublisher is the subset of the CloudWatch client used for metrics.
type MetricsPublisher interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type cloudWatchState struct {
	client    MetricsPublisher
	namespace string
}

var cwState atomic.Pointer[cloudWatchState]

// CloudWatchOptions configures metric publishing.
type CloudWatchOptions struct {
	Region          string
	Namespace       string
	AccessKeyID     string
	SecretAccessKey string
}

// InitCloudWatch initialises the CloudWatch client. If region is empty it
// falls back to AWS_REGION. Static credentials are used when both keys are
// set, otherwise the default AWS credential chain applies. When the client
// cannot be created a warning is logged and publishing remains disabled.
func InitCloudWatch(ctx context.Context, opts CloudWatchOptions) {
	log := GetLogger().WithComponent("cloudwatch")

	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	SetMetricsPublisher(cloudwatch.NewFromConfig(cfg), opts.Namespace)

	log.WithFields(Fields{"region": cfg.Region, "namespace": opts.Namespace}).Info("initialized CloudWatch client")
}

// SetMetricsPublisher installs the client metrics are sent to. A nil client
// disables publishing.
func SetMetricsPublisher(client MetricsPublisher, namespace string) {
	if client == nil {
		cwState.Store(nil)
		return
	}
	if namespace == "" {
		namespace = "FundingScan"
	}
	cwState.Store(&cloudWatchState{client: client, namespace: namespace})
}

// publishMetrics sends the provided metric data to CloudWatch when the client
// has been initialised.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	state := cwState.Load()
	if state == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}

	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}
