package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	amqp "github.com/rabbitmq/amqp091-go"

	"translator-backend/internal/bootstrap"
	"translator-backend/internal/shared/config"
	"translator-backend/internal/shared/metrics"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
	"translator-backend/internal/workerproc"
)

const defaultSQSRegion = "us-east-1"

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	n, err := app.Orchestrator.Resume(ctx)
	if err != nil {
		telemetry.Error("worker.resume_failed", map[string]any{"error": err.Error()})
	}
	telemetry.Info("worker.resumed", map[string]any{"jobs": n})

	var wg sync.WaitGroup
	switch cfg.QueueBackend {
	case "sqs":
		err = runSQS(ctx, cfg, app.Orchestrator, &wg)
	case "amqp":
		err = runAMQP(ctx, cfg, app, &wg)
	default:
		// Nothing to consume; keep polling resumed jobs until told to stop.
		telemetry.Info("worker.idle", map[string]any{"queue": cfg.QueueBackend})
		<-ctx.Done()
	}
	if err != nil {
		telemetry.Error("worker.consume_failed", map[string]any{"error": err.Error()})
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout_ms": cfg.ShutdownTimeout.Milliseconds()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.ShutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func runSQS(ctx context.Context, cfg config.Config, starter translations.Starter, wg *sync.WaitGroup) error {
	queueURL := strings.TrimSpace(cfg.SQSQueueURL)
	if queueURL == "" {
		return errors.New("SQS_QUEUE_URL is required")
	}
	region := cfg.AWSRegion
	if strings.TrimSpace(region) == "" {
		region = defaultSQSRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return err
	}
	var client sqsAPI = sqs.NewFromConfig(awsCfg)

	sem := make(chan struct{}, max(1, cfg.WorkerConcurrency))
	visibility := int32(cfg.SQSVisibilityTimeout / time.Second)
	telemetry.Info("worker.started", map[string]any{
		"queue":        queueURL,
		"concurrency":  cfg.WorkerConcurrency,
		"visibility_s": visibility,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   visibility,
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				return nil
			case sem <- struct{}{}:
			}
			metrics.IncQueueReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, client, queueURL, starter, m)
			}(msg)
		}
	}
}

// handleMessage starts the job named by msg. The message is deleted when the
// job was started or can never be, and left for redelivery otherwise.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, starter translations.Starter, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		logUnrecoverable(err, meta, sqsFields(msg, decoded.JobID, decoded.RequestID))
		if deleteMessage(ctx, client, queueURL, msg, decoded.JobID, decoded.RequestID) {
			metrics.IncQueueDropped()
		}
		return
	}

	telemetry.Info("worker.job.received", sqsFields(msg, decoded.JobID, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, starter, body); err != nil {
		fields := sqsFields(msg, decoded.JobID, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.start_failed", fields)
		metrics.IncQueueRedeliveries()
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.JobID, decoded.RequestID) {
		telemetry.Info("worker.job.dispatched", sqsFields(msg, decoded.JobID, decoded.RequestID))
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, jobID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := sqsFields(msg, jobID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := sqsFields(msg, jobID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	return true
}

func sqsFields(msg sqstypes.Message, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":         jobID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func runAMQP(ctx context.Context, cfg config.Config, app *bootstrap.App, wg *sync.WaitGroup) error {
	if app.AMQP == nil {
		return errors.New("amqp client not configured")
	}
	deliveries, err := app.AMQP.Deliveries("translator-worker")
	if err != nil {
		return err
	}
	sem := make(chan struct{}, max(1, cfg.WorkerConcurrency))
	telemetry.Info("worker.started", map[string]any{
		"queue":       cfg.AMQPQueue,
		"concurrency": cfg.WorkerConcurrency,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			select {
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			case sem <- struct{}{}:
			}
			metrics.IncQueueReceived()
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				handleDelivery(ctx, app.Orchestrator, d)
			}(d)
		}
	}
}

// handleDelivery acks started or unprocessable messages and requeues the
// rest.
func handleDelivery(ctx context.Context, starter translations.Starter, d amqp.Delivery) {
	body := string(d.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		logUnrecoverable(err, meta, amqpFields(d, decoded.JobID, decoded.RequestID))
		if ackErr := d.Ack(false); ackErr == nil {
			metrics.IncQueueDropped()
		}
		return
	}

	telemetry.Info("worker.job.received", amqpFields(d, decoded.JobID, decoded.RequestID))
	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, starter, body); err != nil {
		fields := amqpFields(d, decoded.JobID, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.start_failed", fields)
		metrics.IncQueueRedeliveries()
		_ = d.Nack(false, true)
		return
	}
	if err := d.Ack(false); err != nil {
		fields := amqpFields(d, decoded.JobID, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.ack_failed", fields)
		return
	}
	telemetry.Info("worker.job.dispatched", amqpFields(d, decoded.JobID, decoded.RequestID))
}

func amqpFields(d amqp.Delivery, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":       jobID,
		"delivery_tag": d.DeliveryTag,
		"redelivered":  d.Redelivered,
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func logUnrecoverable(err error, meta workerproc.MessageMeta, fields map[string]any) {
	fields["body_len"] = meta.BodyLen
	if meta.BodySHA != "" {
		fields["body_sha256"] = meta.BodySHA
	}
	var event string
	switch e := err.(type) {
	case workerproc.ErrEmptyBody:
		event = "worker.job.empty_body"
	case workerproc.ErrMissingJobID:
		event = "worker.job.missing_id"
	case workerproc.ErrDecode:
		event = "worker.job.decode_failed"
		if e.Err != nil {
			fields["error"] = e.Err.Error()
		}
	default:
		event = "worker.job.decode_failed"
		fields["error"] = err.Error()
	}
	telemetry.Error(event, fields)
}
