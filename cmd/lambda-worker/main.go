package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"docverify/internal/bootstrap"
	"docverify/internal/shared/config"
	"docverify/internal/shared/metrics"
	"docverify/internal/shared/telemetry"
	"docverify/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return handleBatch(ctx, app.Pipeline, app.Config.Worker.MaxAttempts, event), nil
}

// handleBatch reports only retryable failures back to SQS; everything else is
// acknowledged so the queue drops it.
func handleBatch(ctx context.Context, p workerproc.Processor, maxAttempts int, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncWorkerMessage("received")
		count := receiveCount(record)
		_, err := workerproc.HandleMessage(ctx, p, record.Body)
		decision := workerproc.Decide(err, count, maxAttempts, 0)
		fields := map[string]any{
			"sqs_message_id": record.MessageId,
			"receive_count":  count,
			"result":         decision.Result,
		}
		if err != nil {
			fields["error"] = err.Error()
		}

		switch decision.Action {
		case workerproc.ActionRetry, workerproc.ActionDelay:
			telemetry.Warn("worker.ocr.failed", fields)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		case workerproc.ActionDiscard, workerproc.ActionAbandon:
			fields["alert"] = true
			telemetry.Error("worker.ocr.discarded", fields)
		default:
			telemetry.Info("worker.ocr.completed", fields)
		}
		metrics.IncWorkerMessage(decision.Result)
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func receiveCount(record events.SQSMessage) int {
	n, err := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func main() {
	lambda.Start(handler)
}
