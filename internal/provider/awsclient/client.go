// Package awsclient implements the provider capability set against AWS:
// queue depths and message sampling via SQS, function metrics via
// CloudWatch, log events via CloudWatch Logs, and function inventory via
// Lambda. Every call goes through a per-service circuit breaker and is
// classified into the provider error taxonomy on failure.
package awsclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/queuepulse/queuepulse/internal/provider"
)

const (
	metricNamespace = "AWS/Lambda"
	metricPeriod    = 60 // seconds per datapoint
	logGroupPrefix  = "/aws/lambda/"
)

// Client holds one SDK client per AWS service, each behind its own circuit
// breaker so a misbehaving service degrades only its own resource kind.
type Client struct {
	sqs    *sqs.Client
	lambda *lambda.Client
	cw     *cloudwatch.Client
	logs   *cloudwatchlogs.Client

	sqsBreaker    *gobreaker.CircuitBreaker
	lambdaBreaker *gobreaker.CircuitBreaker
	cwBreaker     *gobreaker.CircuitBreaker
	logsBreaker   *gobreaker.CircuitBreaker

	log *zap.Logger
}

var (
	_ provider.QueueDepthReader      = (*Client)(nil)
	_ provider.MessageReceiver       = (*Client)(nil)
	_ provider.VisibilityExtender    = (*Client)(nil)
	_ provider.FunctionMetricsReader = (*Client)(nil)
	_ provider.LogEventsReader       = (*Client)(nil)
)

// New builds the client from the default AWS credential chain.
func New(ctx context.Context, region string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("awsclient")

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Client{
		sqs:           sqs.NewFromConfig(cfg),
		lambda:        lambda.NewFromConfig(cfg),
		cw:            cloudwatch.NewFromConfig(cfg),
		logs:          cloudwatchlogs.NewFromConfig(cfg),
		sqsBreaker:    newBreaker("sqs", log),
		lambdaBreaker: newBreaker("lambda", log),
		cwBreaker:     newBreaker("cloudwatch", log),
		logsBreaker:   newBreaker("cloudwatch-logs", log),
		log:           log,
	}, nil
}

func newBreaker(name string, log *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// execute runs fn through the breaker, translating an open breaker into a
// transient provider error so the affected resource goes stale instead of
// surfacing a raw breaker error.
func execute[T any](cb *gobreaker.CircuitBreaker, op, resource string, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, provider.NewTransient(op, resource, err)
		}
		return zero, err
	}
	return out.(T), nil
}

// GetQueueDepth returns the approximate number of visible messages on the
// queue identified by its URL.
func (c *Client) GetQueueDepth(ctx context.Context, queueID string) (int, error) {
	const op = "GetQueueDepth"
	out, err := execute(c.sqsBreaker, op, queueID, func() (*sqs.GetQueueAttributesOutput, error) {
		return c.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl: aws.String(queueID),
			AttributeNames: []sqstypes.QueueAttributeName{
				sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			},
		})
	})
	if err != nil {
		return 0, classify(err, op, queueID)
	}

	raw := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	count, convErr := strconv.Atoi(raw)
	if convErr != nil || count < 0 {
		return 0, provider.NewInternal(op, queueID,
			fmt.Errorf("unparseable message count %q", raw))
	}
	return count, nil
}

// ReceiveMessages reads up to max (capped at 10) messages without deleting
// them. A short wait keeps one call from long-polling the whole tick away.
func (c *Client) ReceiveMessages(ctx context.Context, queueID string, max int) ([]provider.RawMessage, error) {
	const op = "ReceiveMessages"
	if max <= 0 {
		return nil, nil
	}
	if max > 10 {
		max = 10
	}

	out, err := execute(c.sqsBreaker, op, queueID, func() (*sqs.ReceiveMessageOutput, error) {
		return c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueID),
			MaxNumberOfMessages: int32(max),
			WaitTimeSeconds:     1,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameAll,
			},
			MessageAttributeNames: []string{"All"},
		})
	})
	if err != nil {
		return nil, classify(err, op, queueID)
	}

	msgs := make([]provider.RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		raw := provider.RawMessage{
			MessageID:         aws.ToString(m.MessageId),
			Body:              aws.ToString(m.Body),
			ReceiptHandle:     aws.ToString(m.ReceiptHandle),
			Attributes:        m.Attributes,
			MessageAttributes: make(map[string]string, len(m.MessageAttributes)),
		}
		for k, v := range m.MessageAttributes {
			raw.MessageAttributes[k] = aws.ToString(v.StringValue)
		}
		msgs = append(msgs, raw)
	}
	return msgs, nil
}

// ExtendVisibility keeps a received message hidden for d more seconds while
// it is being summarized.
func (c *Client) ExtendVisibility(ctx context.Context, queueID, receiptHandle string, d time.Duration) error {
	const op = "ExtendVisibility"
	_, err := execute(c.sqsBreaker, op, queueID, func() (*sqs.ChangeMessageVisibilityOutput, error) {
		return c.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(queueID),
			ReceiptHandle:     aws.String(receiptHandle),
			VisibilityTimeout: int32(d / time.Second),
		})
	})
	if err != nil {
		return classify(err, op, queueID)
	}
	return nil
}

// GetFunctionMetrics pulls the function's invocation metrics for the window
// in one GetMetricData call and folds the per-minute datapoints into a
// MetricWindow. A function missing at the provider is reported as not found
// rather than an empty window.
func (c *Client) GetFunctionMetrics(ctx context.Context, functionID string, window provider.TimeRange) (*provider.MetricWindow, error) {
	const op = "GetFunctionMetrics"

	if _, err := execute(c.lambdaBreaker, op, functionID, func() (*lambda.GetFunctionOutput, error) {
		return c.lambda.GetFunction(ctx, &lambda.GetFunctionInput{
			FunctionName: aws.String(functionID),
		})
	}); err != nil {
		return nil, classify(err, op, functionID)
	}

	out, err := execute(c.cwBreaker, op, functionID, func() (*cloudwatch.GetMetricDataOutput, error) {
		return c.cw.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
			StartTime:         aws.Time(window.Start),
			EndTime:           aws.Time(window.End),
			MetricDataQueries: metricQueries(functionID),
		})
	})
	if err != nil {
		return nil, classify(err, op, functionID)
	}

	return windowFromResults(functionID, window, out.MetricDataResults), nil
}

// metricQueries builds the four per-minute series the window needs. Sums
// are requested for every series, including Duration: the inference engine
// works on total busy-time, not averages.
func metricQueries(functionID string) []cwtypes.MetricDataQuery {
	query := func(id, metricName string) cwtypes.MetricDataQuery {
		return cwtypes.MetricDataQuery{
			Id: aws.String(id),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String(metricNamespace),
					MetricName: aws.String(metricName),
					Dimensions: []cwtypes.Dimension{
						{Name: aws.String("FunctionName"), Value: aws.String(functionID)},
					},
				},
				Period: aws.Int32(metricPeriod),
				Stat:   aws.String("Sum"),
			},
		}
	}
	return []cwtypes.MetricDataQuery{
		query("invocations", "Invocations"),
		query("errors", "Errors"),
		query("throttles", "Throttles"),
		query("duration", "Duration"),
	}
}

// windowFromResults folds per-minute datapoints into window totals.
func windowFromResults(functionID string, window provider.TimeRange, results []cwtypes.MetricDataResult) *provider.MetricWindow {
	w := &provider.MetricWindow{
		FunctionID:  functionID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
	}
	for _, res := range results {
		var total float64
		for _, v := range res.Values {
			total += v
		}
		switch aws.ToString(res.Id) {
		case "invocations":
			w.Invocations = int64(total)
		case "errors":
			w.Errors = int64(total)
		case "throttles":
			w.Throttles = int64(total)
		case "duration":
			w.TotalDurationMs = total
		}
	}
	return w
}

// FilterLogEvents returns one page of the function's log events within the
// window, optionally filtered by pattern.
func (c *Client) FilterLogEvents(ctx context.Context, functionID string, window provider.TimeRange, pattern, nextToken string) (provider.LogPage, error) {
	const op = "FilterLogEvents"

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(logGroupPrefix + functionID),
		StartTime:    aws.Int64(window.Start.UnixMilli()),
		EndTime:      aws.Int64(window.End.UnixMilli()),
	}
	if pattern != "" {
		input.FilterPattern = aws.String(pattern)
	}
	if nextToken != "" {
		input.NextToken = aws.String(nextToken)
	}

	out, err := execute(c.logsBreaker, op, functionID, func() (*cloudwatchlogs.FilterLogEventsOutput, error) {
		return c.logs.FilterLogEvents(ctx, input)
	})
	if err != nil {
		return provider.LogPage{}, classify(err, op, functionID)
	}

	page := provider.LogPage{
		Events:    make([]provider.LogEvent, 0, len(out.Events)),
		NextToken: aws.ToString(out.NextToken),
	}
	for _, ev := range out.Events {
		page.Events = append(page.Events, provider.LogEvent{
			Timestamp: time.UnixMilli(aws.ToInt64(ev.Timestamp)).UTC(),
			Message:   aws.ToString(ev.Message),
			LogStream: aws.ToString(ev.LogStreamName),
		})
	}
	return page, nil
}

// FunctionInfo is one entry of the function inventory.
type FunctionInfo struct {
	Name         string
	Description  string
	Runtime      string
	MemorySizeMB int32
	TimeoutSec   int32
	LastModified string
}

// ListFunctions pages through every function in the account and region.
func (c *Client) ListFunctions(ctx context.Context) ([]FunctionInfo, error) {
	const op = "ListFunctions"

	var infos []FunctionInfo
	paginator := lambda.NewListFunctionsPaginator(c.lambda, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := execute(c.lambdaBreaker, op, "*", func() (*lambda.ListFunctionsOutput, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, classify(err, op, "*")
		}
		for _, fn := range page.Functions {
			infos = append(infos, FunctionInfo{
				Name:         aws.ToString(fn.FunctionName),
				Description:  aws.ToString(fn.Description),
				Runtime:      string(fn.Runtime),
				MemorySizeMB: aws.ToInt32(fn.MemorySize),
				TimeoutSec:   aws.ToInt32(fn.Timeout),
				LastModified: aws.ToString(fn.LastModified),
			})
		}
	}
	return infos, nil
}
