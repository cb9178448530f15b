package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-mpesa-mealpay/internal/aws"
	"github.com/imrishuroy/go-mpesa-mealpay/internal/payments"
)

// CloudWatch emits one PaymentOutcome datapoint per terminal notification,
// plus the number of polls the session took.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewCloudWatch returns a payments.Sink backed by PutMetricData.
func NewCloudWatch(client aws.CloudWatchAPI, namespace string) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace, nowFunc: time.Now}
}

func (c *CloudWatch) Notify(ctx context.Context, n payments.Notification) error {
	dims := []cwtypes.Dimension{{Name: str("Outcome"), Value: str(string(n.Outcome))}}
	ts := n.At
	if ts.IsZero() {
		ts = c.nowFunc()
	}
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: str(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: str("PaymentOutcome"),
				Dimensions: dims,
				Timestamp:  &ts,
				Unit:       cwtypes.StandardUnitCount,
				Value:      f64(1),
			},
			{
				MetricName: str("PollAttempts"),
				Dimensions: dims,
				Timestamp:  &ts,
				Unit:       cwtypes.StandardUnitCount,
				Value:      f64(float64(n.Attempts)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func str(s string) *string   { return &s }
func f64(v float64) *float64 { return &v }
