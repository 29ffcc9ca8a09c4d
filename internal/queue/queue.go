package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/invoiceai/invoice-pipeline-service/internal/config"
)

// TaskProcessDocument is the asynq task type for one pipeline run.
const TaskProcessDocument = "pipeline:process_document"

// QueueName is the asynq queue documents are enqueued on.
const QueueName = "pipeline"

// ProcessPayload is the task payload.
type ProcessPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

// RedisOpt builds the asynq Redis connection options from config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Queue enqueues pipeline runs.
type Queue struct {
	client *asynq.Client
}

// New creates the enqueue-side client.
func New(redis asynq.RedisClientOpt) *Queue {
	return &Queue{client: asynq.NewClient(redis)}
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueProcess schedules one pipeline run for a document and returns the
// task id. MaxRetry is zero: a failed run never re-executes on its own, the
// client has to re-submit explicitly.
func (q *Queue) EnqueueProcess(ctx context.Context, documentID uuid.UUID) (string, error) {
	payload, err := json.Marshal(ProcessPayload{DocumentID: documentID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskProcessDocument, payload)
	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(QueueName), asynq.MaxRetry(0))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue pipeline run: %w", err)
	}
	return info.ID, nil
}
