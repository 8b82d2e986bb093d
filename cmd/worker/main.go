package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docverify/internal/bootstrap"
	"docverify/internal/pipeline"
	"docverify/internal/shared/config"
	"docverify/internal/shared/metrics"
	"docverify/internal/shared/telemetry"
	"docverify/internal/shared/workerpool"
	"docverify/internal/workerproc"
)

const defaultRegion = "us-east-1"

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// worker owns one queue and hands each message to the pipeline.
type worker struct {
	client      sqsAPI
	queueURL    string
	processor   workerproc.Processor
	maxAttempts int
	baseDelay   time.Duration
}

func main() {
	cfg := config.Load()
	if cfg.QueueURL == "" {
		log.Fatal("DV_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	region := cfg.AWSRegion
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	w := &worker{
		client:      sqs.NewFromConfig(awsCfg),
		queueURL:    cfg.QueueURL,
		processor:   app.Pipeline,
		maxAttempts: cfg.Worker.MaxAttempts,
		baseDelay:   cfg.Worker.RetryBaseDelay,
	}
	pool := workerpool.New(cfg.Worker.Concurrency)

	telemetry.Info("worker.started", map[string]any{
		"queue_url":      cfg.QueueURL,
		"concurrency":    pool.Size(),
		"visibility_s":   int(cfg.Worker.VisibilityTimeout.Seconds()),
		"max_attempts":   cfg.Worker.MaxAttempts,
		"text_detection": app.TextDetect.Enabled(),
	})

	w.poll(ctx, pool, int32(cfg.Worker.VisibilityTimeout.Seconds()))

	telemetry.Info("worker.shutdown", map[string]any{"timeout_s": int(cfg.Worker.ShutdownTimeout.Seconds())})
	if !pool.Wait(cfg.Worker.ShutdownTimeout) {
		telemetry.Warn("worker.shutdown.timeout", map[string]any{"reason": "exiting with in-flight jobs"})
	}
}

func (w *worker) poll(ctx context.Context, pool *workerpool.Pool, visibility int32) {
	for ctx.Err() == nil {
		resp, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: int32(min(10, max(1, pool.Size()))),
			WaitTimeSeconds:     20,
			VisibilityTimeout:   visibility,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			metrics.IncWorkerMessage("received")
			m := msg
			// In-flight jobs outlive the poll context.
			if err := pool.Submit(ctx, func() { w.handleMessage(context.WithoutCancel(ctx), m) }); err != nil {
				return
			}
		}
	}
}

func (w *worker) handleMessage(ctx context.Context, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	count := receiveCount(msg)

	job, meta, err := workerproc.ParseMessage(body)
	fields := baseFields(msg, count)
	if err == nil {
		for k, v := range job.LogFields() {
			fields[k] = v
		}
		telemetry.Info("worker.ocr.received", fields)
		var outcome pipeline.Outcome
		outcome, err = workerproc.HandleJob(ctx, w.processor, job)
		if outcome != "" {
			fields["outcome"] = string(outcome)
		}
	} else {
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
	}

	decision := workerproc.Decide(err, count, w.maxAttempts, w.baseDelay)
	if err != nil {
		fields["error"] = err.Error()
		var proc workerproc.ErrProcess
		if errors.As(err, &proc) {
			fields["code"] = proc.Code
		}
	}

	switch decision.Action {
	case workerproc.ActionDelete:
		if !w.deleteMessage(ctx, msg, fields) {
			return
		}
		telemetry.Info("worker.ocr.completed", fields)
	case workerproc.ActionDiscard:
		fields["alert"] = decision.Result == "integrity"
		telemetry.Error("worker.ocr.discarded", fields)
		if !w.deleteMessage(ctx, msg, fields) {
			return
		}
	case workerproc.ActionAbandon:
		fields["alert"] = true
		telemetry.Error("worker.ocr.abandoned", fields)
		if !w.deleteMessage(ctx, msg, fields) {
			return
		}
	case workerproc.ActionRetry, workerproc.ActionDelay:
		fields["visibility_s"] = int(decision.Visibility.Seconds())
		if decision.Action == workerproc.ActionDelay {
			telemetry.Warn("worker.ocr.delayed", fields)
		} else {
			telemetry.Warn("worker.ocr.failed", fields)
		}
		w.changeVisibility(ctx, msg, decision.Visibility, fields)
	}
	metrics.IncWorkerMessage(decision.Result)
}

func (w *worker) deleteMessage(ctx context.Context, msg sqstypes.Message, fields map[string]any) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields["delete_error"] = "missing receipt handle"
		telemetry.Error("worker.ocr.delete_failed", fields)
		return false
	}
	if _, err := w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields["delete_error"] = err.Error()
		telemetry.Error("worker.ocr.delete_failed", fields)
		return false
	}
	return true
}

func (w *worker) changeVisibility(ctx context.Context, msg sqstypes.Message, d time.Duration, fields map[string]any) {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		return
	}
	if _, err := w.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(w.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(d.Seconds()),
	}); err != nil {
		fields["visibility_error"] = err.Error()
		telemetry.Error("worker.ocr.visibility_failed", fields)
	}
}

func baseFields(msg sqstypes.Message, count int) map[string]any {
	return map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  count,
	}
}

func receiveCount(msg sqstypes.Message) int {
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 1
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || parsed < 1 {
		return 1
	}
	return parsed
}
