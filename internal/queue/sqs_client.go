package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const defaultRegion = "us-east-1"

type sqsSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSClient enqueues OCR jobs on SQS. On a FIFO queue (URL ending in .fifo)
// jobs for the same owner share a message group, so a proposal's documents
// are processed one at a time, and a request id is delivered at most once
// per file.
type SQSClient struct {
	client   sqsSender
	queueURL string
	fifo     bool
	now      func() time.Time
}

// NewSQSClient loads the default AWS config for region and targets queueURL.
func NewSQSClient(ctx context.Context, queueURL, region string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("DV_SQS_QUEUE_URL is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSClient(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSClient(client sqsSender, queueURL string) *SQSClient {
	return &SQSClient{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		now:      time.Now,
	}
}

// Send stamps the job with the payload version and enqueue time and sends it.
func (s *SQSClient) Send(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.Version == 0 {
		job.Version = CurrentVersion
	}
	if job.EnqueuedAt == "" {
		job.EnqueuedAt = s.now().UTC().Format(time.RFC3339)
	}
	payload, err := Encode(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"documentFileId": stringAttr(job.DocumentFileID),
			"version":        {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(job.Version))},
		},
	}
	if job.RequestID != "" {
		in.MessageAttributes["requestId"] = stringAttr(job.RequestID)
	}
	if s.fifo {
		in.MessageGroupId = aws.String(job.OwnerID())
		dedup := job.DocumentFileID
		if job.RequestID != "" {
			dedup = job.RequestID + ":" + job.DocumentFileID
		}
		in.MessageDeduplicationId = aws.String(dedup)
	}

	if _, err := s.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send document_file_id=%s: %w", job.DocumentFileID, err)
	}
	return nil
}

func stringAttr(v string) sqstypes.MessageAttributeValue {
	return sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

var (
	_ Client = (*SQSClient)(nil)
	_ Client = (*MemoryClient)(nil)
)
