package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/internal/pipeline"
)

// Worker handles dequeued pipeline tasks.
type Worker struct {
	orchestrator *pipeline.Orchestrator
	log          *logrus.Logger
}

// NewWorker creates the task handler around the orchestrator.
func NewWorker(orchestrator *pipeline.Orchestrator, log *logrus.Logger) *Worker {
	return &Worker{orchestrator: orchestrator, log: log}
}

// NewServer builds the asynq server consuming the pipeline queue.
func NewServer(redis asynq.RedisClientOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
	})
}

// Mux routes task types to their handlers.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessDocument, w.HandleProcessDocument)
	return mux
}

// HandleProcessDocument runs the pipeline for the document in the payload.
// A stage failure is already fully recorded by the orchestrator, so the
// error returned here only surfaces in worker logs.
func (w *Worker) HandleProcessDocument(ctx context.Context, t *asynq.Task) error {
	var payload ProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid task payload: %w", err)
	}

	w.log.WithField("document", payload.DocumentID).Info("pipeline run started")
	if err := w.orchestrator.Run(ctx, payload.DocumentID); err != nil {
		w.log.WithError(err).WithField("document", payload.DocumentID).Error("pipeline run failed")
		return err
	}
	return nil
}
