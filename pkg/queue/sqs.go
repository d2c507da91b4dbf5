package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/rowmill/rowmill/pkg/observability/logger"
)

const attrJobID = "job_id"

// SQSConfig holds SQS queue configuration.
type SQSConfig struct {
	Region            string
	QueueURL          string
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	OperationTimeout  time.Duration
	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue implements Enqueuer on AWS SQS and feeds the async export worker
// through Consume.
type SQSQueue struct {
	client sqsAPI
	logger logger.Logger
	config SQSConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewSQSQueue creates an SQS-backed queue with custom endpoint and long
// polling support. It does not create queues or IAM policies.
func NewSQSQueue(cfg SQSConfig, log logger.Logger) (*SQSQueue, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue URL is required")
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = 10
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 10
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	q := &SQSQueue{
		client: sqs.NewFromConfig(awsCfg, opts...),
		logger: log,
		config: cfg,
	}
	if err := q.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// newSQSQueueWithClient is the test seam.
func newSQSQueueWithClient(client sqsAPI, cfg SQSConfig, log logger.Logger) *SQSQueue {
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = time.Second
	}
	return &SQSQueue{client: client, logger: log, config: cfg}
}

// Enqueue submits one task and returns after the queue acknowledges it.
// A transport failure is surfaced synchronously wrapped in ErrEnqueue; no
// internal retry happens.
func (q *SQSQueue) Enqueue(ctx context.Context, task Task) error {
	if err := q.ensureOpen(); err != nil {
		return err
	}
	if err := task.Validate(); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, q.config.OperationTimeout)
	defer cancel()

	_, err := q.client.SendMessage(opCtx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.config.QueueURL),
		MessageBody: aws.String(string(task.Payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			attrJobID: {DataType: aws.String("String"), StringValue: aws.String(task.JobID)},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	return nil
}

// Consume polls the queue and invokes handler for each received task until
// ctx is cancelled or Close is called. Messages are deleted only after the
// handler succeeds; failed deliveries reappear after the visibility timeout.
func (q *SQSQueue) Consume(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("sqs queue is closed")
	}
	if q.cancel != nil {
		q.mu.Unlock()
		return errors.New("already consuming")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	go q.pollLoop(pollCtx, handler)
	return nil
}

func (q *SQSQueue) pollLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			recvCtx, cancel := context.WithTimeout(ctx, q.config.OperationTimeout)
			out, err := q.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
				QueueUrl:              aws.String(q.config.QueueURL),
				MaxNumberOfMessages:   q.config.MaxMessages,
				WaitTimeSeconds:       q.config.WaitTimeSeconds,
				VisibilityTimeout:     q.config.VisibilityTimeout,
				MessageAttributeNames: []string{"All"},
			})
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.logger.Error("sqs receive failed", "error", err)
				time.Sleep(200 * time.Millisecond)
				continue
			}

			for _, m := range out.Messages {
				task := Task{
					JobID:   attributeValue(m.MessageAttributes, attrJobID),
					Payload: []byte(aws.ToString(m.Body)),
				}
				if err := handler(ctx, task); err != nil {
					q.logger.Error("task handler failed", "job_id", task.JobID, "error", err)
					continue
				}
				if m.ReceiptHandle != nil {
					if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
						QueueUrl:      aws.String(q.config.QueueURL),
						ReceiptHandle: m.ReceiptHandle,
					}); err != nil {
						q.logger.Warn("failed to delete consumed message", "job_id", task.JobID, "error", err)
					}
				}
			}
		}
	}
}

// HealthCheck verifies the queue is reachable.
func (q *SQSQueue) HealthCheck(ctx context.Context) error {
	if err := q.ensureOpen(); err != nil {
		return err
	}
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := q.client.GetQueueAttributes(hcCtx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameQueueArn,
		},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close stops consuming and rejects further operations.
func (q *SQSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	return nil
}

func (q *SQSQueue) ensureOpen() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("sqs queue is closed")
	}
	return nil
}

func attributeValue(attrs map[string]types.MessageAttributeValue, key string) string {
	if attr, ok := attrs[key]; ok {
		return aws.ToString(attr.StringValue)
	}
	return ""
}
