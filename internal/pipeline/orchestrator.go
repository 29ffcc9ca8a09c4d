package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/internal/ai"
	"github.com/invoiceai/invoice-pipeline-service/internal/fraud"
	"github.com/invoiceai/invoice-pipeline-service/internal/ledger"
	"github.com/invoiceai/invoice-pipeline-service/internal/models"
	"github.com/invoiceai/invoice-pipeline-service/internal/ocr"
	"github.com/invoiceai/invoice-pipeline-service/internal/tax"
)

// DocumentStore is the document persistence the orchestrator needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	ListDocumentsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Document, error)
}

// StageRecorder appends immutable stage execution records.
type StageRecorder interface {
	AppendStageRecord(ctx context.Context, rec *models.StageRecord) error
}

// ObjectFetcher downloads the uploaded document bytes.
type ObjectFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// TextExtractor is the OCR chain boundary.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*ocr.Result, error)
}

// FieldExtractor is the AI extraction boundary.
type FieldExtractor interface {
	Extract(ctx context.Context, ocrText string, accountID uuid.UUID, preferred string) (*ai.Extraction, string, error)
}

// stage pairs a name with its work function. Stages share one executor:
// the debit, persistence, and record-keeping around every stage is
// identical, only the work differs.
type stage struct {
	name string
	fn   func(ctx context.Context, r *run) (map[string]any, error)
}

// run carries per-execution state between stages: the document plus the
// raw bytes the ingestion stage fetched.
type run struct {
	doc *models.Document
	raw []byte
}

// Orchestrator drives a document through the six pipeline stages in order.
// Each stage debits its token cost before running; the first failing stage
// halts the run with a failed record and a failed document. Tokens spent on
// completed stages are not refunded.
type Orchestrator struct {
	docs         DocumentStore
	records      StageRecorder
	ledger       ledger.Ledger
	objects      ObjectFetcher
	chain        TextExtractor
	extractor    FieldExtractor
	scorer       *fraud.Scorer
	tax          *tax.Evaluator
	stageCost    func(stage string) int64
	historyLimit int
	log          *logrus.Logger
	stages       []stage
	now          func() time.Time
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	docs DocumentStore,
	records StageRecorder,
	ldg ledger.Ledger,
	objects ObjectFetcher,
	chain TextExtractor,
	extractor FieldExtractor,
	scorer *fraud.Scorer,
	taxEval *tax.Evaluator,
	stageCost func(stage string) int64,
	historyLimit int,
	log *logrus.Logger,
) *Orchestrator {
	o := &Orchestrator{
		docs:         docs,
		records:      records,
		ledger:       ldg,
		objects:      objects,
		chain:        chain,
		extractor:    extractor,
		scorer:       scorer,
		tax:          taxEval,
		stageCost:    stageCost,
		historyLimit: historyLimit,
		log:          log,
		now:          time.Now,
	}
	o.stages = []stage{
		{models.StageIngestion, o.runIngestion},
		{models.StageOCR, o.runOCR},
		{models.StageClassification, o.runClassification},
		{models.StageFraudDetection, o.runFraudDetection},
		{models.StageTaxCompliance, o.runTaxCompliance},
		{models.StageReporting, o.runReporting},
	}
	return o
}

// Run executes the full pipeline for one document. Completed documents are
// never re-run; failed documents restart from scratch only through an
// explicit re-submission, which is what lands here.
func (o *Orchestrator) Run(ctx context.Context, documentID uuid.UUID) error {
	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", documentID, err)
	}

	if doc.Status == models.StatusCompleted {
		o.log.WithField("document", documentID).Warn("document already completed, skipping")
		return nil
	}

	doc.Status = models.StatusProcessing
	doc.ErrorMessage = ""
	doc.ErrorCode = ""
	doc.Pipeline = models.PipelineState{}
	if err := o.docs.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to start pipeline for %s: %w", documentID, err)
	}

	r := &run{doc: doc}
	for _, st := range o.stages {
		if err := o.executeStage(ctx, r, st); err != nil {
			return err
		}
	}

	o.log.WithFields(logrus.Fields{
		"document": documentID,
		"tokens":   doc.TokensUsed,
	}).Info("pipeline completed")
	return nil
}

// executeStage is the shared stage executor: debit, run, persist, record.
func (o *Orchestrator) executeStage(ctx context.Context, r *run, st stage) error {
	doc := r.doc
	cost := o.stageCost(st.name)

	if err := o.ledger.Debit(ctx, doc.AccountID, cost, st.name); err != nil {
		if errors.Is(err, ledger.ErrInsufficientTokens) {
			o.failStage(ctx, r, st.name, 0, 0, nil, err)
			return &StageError{Stage: st.name, Err: err}
		}
		return fmt.Errorf("failed to debit stage %s: %w", st.name, err)
	}

	input := o.inputSnapshot(doc)
	o.log.WithFields(logrus.Fields{
		"document": doc.ID,
		"stage":    st.name,
	}).Info("stage started")

	start := o.now()
	output, err := st.fn(ctx, r)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		o.failStage(ctx, r, st.name, duration, cost, input, err)
		return &StageError{Stage: st.name, Err: err}
	}

	doc.Pipeline[st.name] = models.StageState{Completed: true, Timestamp: o.now().UTC()}
	doc.TokensUsed += cost
	if err := o.docs.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to persist document after stage %s: %w", st.name, err)
	}

	rec := &models.StageRecord{
		AccountID:      doc.AccountID,
		DocumentID:     doc.ID,
		Stage:          st.name,
		Status:         models.StageCompleted,
		DurationMS:     duration,
		TokensCharged:  cost,
		InputSnapshot:  input,
		OutputSnapshot: output,
	}
	if err := o.records.AppendStageRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to record stage %s: %w", st.name, err)
	}

	o.log.WithFields(logrus.Fields{
		"document": doc.ID,
		"stage":    st.name,
		"ms":       duration,
	}).Info("stage completed")
	return nil
}

// failStage marks the document failed and appends the failed stage record.
// Best effort: a persistence failure here is logged, not propagated, since
// the stage error itself is what the caller needs.
func (o *Orchestrator) failStage(ctx context.Context, r *run, stageName string, duration, cost int64, input map[string]any, cause error) {
	doc := r.doc
	doc.Status = models.StatusFailed
	doc.ErrorMessage = fmt.Sprintf("stage %s: %v", stageName, cause)
	doc.ErrorCode = failureCode(cause)
	doc.TokensUsed += cost

	if err := o.docs.UpdateDocument(ctx, doc); err != nil {
		o.log.WithError(err).WithField("document", doc.ID).Error("failed to persist failed document")
	}

	rec := &models.StageRecord{
		AccountID:     doc.AccountID,
		DocumentID:    doc.ID,
		Stage:         stageName,
		Status:        models.StageFailed,
		DurationMS:    duration,
		TokensCharged: cost,
		InputSnapshot: input,
		ErrorMessage:  cause.Error(),
	}
	if err := o.records.AppendStageRecord(ctx, rec); err != nil {
		o.log.WithError(err).WithField("document", doc.ID).Error("failed to record failed stage")
	}

	o.log.WithError(cause).WithFields(logrus.Fields{
		"document": doc.ID,
		"stage":    stageName,
	}).Error("stage failed, pipeline halted")
}

func (o *Orchestrator) inputSnapshot(doc *models.Document) map[string]any {
	snap := map[string]any{
		"status":     string(doc.Status),
		"mimeType":   doc.MimeType,
		"sizeBytes":  doc.SizeBytes,
		"tokensUsed": doc.TokensUsed,
	}
	if doc.OCRMethod != "" {
		snap["ocrMethod"] = doc.OCRMethod
	}
	return snap
}
