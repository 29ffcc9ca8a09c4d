package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceai/invoice-pipeline-service/internal/ai"
	"github.com/invoiceai/invoice-pipeline-service/internal/fraud"
	"github.com/invoiceai/invoice-pipeline-service/internal/ledger"
	"github.com/invoiceai/invoice-pipeline-service/internal/models"
	"github.com/invoiceai/invoice-pipeline-service/internal/ocr"
	"github.com/invoiceai/invoice-pipeline-service/internal/tax"
)

type fakeDocs struct {
	doc     *models.Document
	history []models.Document
	updates int
}

func (f *fakeDocs) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if f.doc == nil || f.doc.ID != id {
		return nil, errors.New("document not found")
	}
	return f.doc, nil
}

func (f *fakeDocs) UpdateDocument(ctx context.Context, doc *models.Document) error {
	f.updates++
	return nil
}

func (f *fakeDocs) ListDocumentsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Document, error) {
	return f.history, nil
}

type fakeRecords struct {
	records []models.StageRecord
}

func (f *fakeRecords) AppendStageRecord(ctx context.Context, rec *models.StageRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

type fakeObjects struct {
	data []byte
	err  error
}

func (f *fakeObjects) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f.data, f.err
}

type fakeChain struct {
	result *ocr.Result
	err    error
}

func (f *fakeChain) Extract(ctx context.Context, data []byte, mimeType string) (*ocr.Result, error) {
	return f.result, f.err
}

type fakeExtractor struct {
	extraction *ai.Extraction
	provider   string
	err        error
	calls      int
}

func (f *fakeExtractor) Extract(ctx context.Context, ocrText string, accountID uuid.UUID, preferred string) (*ai.Extraction, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.extraction, f.provider, nil
}

var stageCosts = map[string]int64{
	models.StageIngestion:      1,
	models.StageOCR:            2,
	models.StageClassification: 2,
	models.StageFraudDetection: 1,
	models.StageTaxCompliance:  1,
	models.StageReporting:      1,
}

func testStageCost(stage string) int64 {
	if cost, ok := stageCosts[stage]; ok {
		return cost
	}
	return 1
}

func testDocument() *models.Document {
	return &models.Document{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		ObjectKey: "acct/2026/08/doc.pdf",
		MimeType:  "application/pdf",
		SizeBytes: 4096,
		Status:    models.StatusProcessing,
		Pipeline:  models.PipelineState{},
	}
}

func testExtraction() *ai.Extraction {
	vendor := "Acme Supplies"
	taxID := "310123456789003"
	region := "SA"
	subtotal := decimal.NewFromInt(1000)
	taxAmount := decimal.NewFromInt(150)
	total := decimal.NewFromInt(1150)
	return &ai.Extraction{
		Vendor:     &vendor,
		TaxID:      &taxID,
		Region:     &region,
		Subtotal:   &subtotal,
		TaxAmount:  &taxAmount,
		Total:      &total,
		Confidence: 0.9,
		Source:     "ai",
	}
}

type testEnv struct {
	docs      *fakeDocs
	records   *fakeRecords
	ledger    *ledger.MemoryLedger
	extractor *fakeExtractor
	orch      *Orchestrator
}

func newTestEnv(doc *models.Document, dailyTokens int64) *testEnv {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	env := &testEnv{
		docs:    &fakeDocs{doc: doc},
		records: &fakeRecords{},
		ledger:  ledger.NewMemoryLedger(dailyTokens),
		extractor: &fakeExtractor{
			extraction: testExtraction(),
			provider:   "openai",
		},
	}
	env.orch = NewOrchestrator(
		env.docs,
		env.records,
		env.ledger,
		&fakeObjects{data: []byte("pdf bytes")},
		&fakeChain{result: &ocr.Result{
			Text:       "INVOICE 1234 Acme Supplies total 1,150.00",
			Confidence: 0.9,
			Method:     ocr.MethodTesseract,
		}},
		env.extractor,
		fraud.NewScorer(fraud.DefaultConfig()),
		tax.NewEvaluator("US"),
		testStageCost,
		100,
		log,
	)
	return env
}

func TestRunHappyPath(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc, 100)

	require.NoError(t, env.orch.Run(context.Background(), doc.ID))

	assert.Equal(t, models.StatusCompleted, doc.Status)
	require.NotNil(t, doc.ProcessedAt)
	assert.Equal(t, int64(8), doc.TokensUsed)
	assert.Empty(t, doc.ErrorMessage)
	assert.Empty(t, doc.ErrorCode)

	// Every stage completed in order, each with its own record.
	require.Len(t, env.records.records, len(models.StageOrder))
	for i, name := range models.StageOrder {
		rec := env.records.records[i]
		assert.Equal(t, name, rec.Stage)
		assert.Equal(t, models.StageCompleted, rec.Status)
		assert.Equal(t, stageCosts[name], rec.TokensCharged)
		assert.Equal(t, doc.ID, rec.DocumentID)

		state, ok := doc.Pipeline[name]
		require.True(t, ok, name)
		assert.True(t, state.Completed)
	}

	// Extraction, fraud and tax outputs landed on the document.
	require.NotNil(t, doc.Vendor)
	assert.Equal(t, "Acme Supplies", *doc.Vendor)
	require.NotNil(t, doc.Risk)
	require.NotNil(t, doc.Tax)
	assert.Equal(t, models.TaxCompliant, doc.Tax.Status)

	bal, err := env.ledger.Balance(context.Background(), doc.AccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), bal.LifetimeUsed)
}

func TestRunCompletedDocumentIsSkipped(t *testing.T) {
	doc := testDocument()
	doc.Status = models.StatusCompleted
	env := newTestEnv(doc, 100)

	require.NoError(t, env.orch.Run(context.Background(), doc.ID))

	assert.Zero(t, env.docs.updates)
	assert.Empty(t, env.records.records)

	bal, err := env.ledger.Balance(context.Background(), doc.AccountID)
	require.NoError(t, err)
	assert.Zero(t, bal.LifetimeUsed)
}

func TestRunHaltsOnStageFailure(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc, 100)
	env.extractor.err = ai.ErrNoProvidersAvailable

	err := env.orch.Run(context.Background(), doc.ID)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.StageClassification, stageErr.Stage)
	require.ErrorIs(t, err, ai.ErrNoProvidersAvailable)

	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "stage classification")
	assert.Equal(t, models.ErrCodeProvidersExhausted, doc.ErrorCode)
	// Ingestion, OCR and the failed classification debit all stick.
	assert.Equal(t, int64(5), doc.TokensUsed)

	require.Len(t, env.records.records, 3)
	assert.Equal(t, models.StageCompleted, env.records.records[0].Status)
	assert.Equal(t, models.StageCompleted, env.records.records[1].Status)
	failed := env.records.records[2]
	assert.Equal(t, models.StageFailed, failed.Status)
	assert.Equal(t, models.StageClassification, failed.Stage)
	assert.NotEmpty(t, failed.ErrorMessage)

	// The halted stages never ran.
	assert.Nil(t, doc.Risk)
	assert.Nil(t, doc.Tax)
	assert.Nil(t, doc.ProcessedAt)
}

func TestRunHaltsWhenTokensRunOut(t *testing.T) {
	doc := testDocument()
	// Covers ingestion (1) and OCR (2) but not classification (2).
	env := newTestEnv(doc, 4)

	err := env.orch.Run(context.Background(), doc.ID)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.StageClassification, stageErr.Stage)
	require.ErrorIs(t, err, ledger.ErrInsufficientTokens)

	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.Equal(t, models.ErrCodeQuotaExceeded, doc.ErrorCode)
	// The failed debit charged nothing.
	assert.Equal(t, int64(3), doc.TokensUsed)

	require.Len(t, env.records.records, 3)
	failed := env.records.records[2]
	assert.Equal(t, models.StageFailed, failed.Status)
	assert.Zero(t, failed.TokensCharged)

	bal, berr := env.ledger.Balance(context.Background(), doc.AccountID)
	require.NoError(t, berr)
	assert.Equal(t, int64(3), bal.LifetimeUsed)
	assert.Equal(t, int64(1), bal.Remaining)
}

func TestRunFailedDocumentRestartsCleanly(t *testing.T) {
	doc := testDocument()
	doc.Status = models.StatusFailed
	doc.ErrorMessage = "stage classification: no AI providers available"
	doc.ErrorCode = models.ErrCodeProvidersExhausted
	doc.TokensUsed = 5
	doc.Pipeline = models.PipelineState{
		models.StageIngestion: {Completed: true, Timestamp: time.Now()},
	}
	env := newTestEnv(doc, 100)

	require.NoError(t, env.orch.Run(context.Background(), doc.ID))

	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Empty(t, doc.ErrorMessage)
	assert.Empty(t, doc.ErrorCode)
	// A restart runs every stage again and pays for them again.
	assert.Equal(t, int64(13), doc.TokensUsed)
	assert.Len(t, doc.Pipeline, len(models.StageOrder))
}

func TestRunMockOCRSkipsAIExtraction(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc, 100)
	env.orch.chain = &fakeChain{result: &ocr.Result{
		Text:       ocr.MockText,
		Confidence: ocr.MockConfidence,
		Method:     ocr.MethodMock,
		Steps:      []string{"mock: all extraction attempts exhausted"},
	}}

	require.NoError(t, env.orch.Run(context.Background(), doc.ID))

	// The placeholder text went through regex heuristics, no provider call.
	assert.Zero(t, env.extractor.calls)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, ocr.MethodMock, doc.OCRMethod)

	// The classification record shows the degraded source.
	rec := env.records.records[2]
	assert.Equal(t, models.StageClassification, rec.Stage)
	assert.Equal(t, "none", rec.OutputSnapshot["provider"])
	assert.Equal(t, "regex", rec.OutputSnapshot["source"])

	// Low mock confidence surfaces as a fraud flag downstream.
	require.NotNil(t, doc.Risk)
	assert.Contains(t, doc.Risk.Flags, fraud.FlagLowOCRConfidence)
}

func TestRunIngestionRejectsInvalidStoredDocument(t *testing.T) {
	doc := testDocument()
	doc.MimeType = "application/zip"
	doc.SizeBytes = 12
	env := newTestEnv(doc, 100)

	err := env.orch.Run(context.Background(), doc.ID)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.StageIngestion, stageErr.Stage)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
	assert.Equal(t, models.ErrCodeValidation, doc.ErrorCode)
}

func TestRunUnclassifiedFailureGetsProcessingCode(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc, 100)
	env.orch.objects = &fakeObjects{err: errors.New("object storage unreachable")}

	err := env.orch.Run(context.Background(), doc.ID)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.StageIngestion, stageErr.Stage)
	assert.Equal(t, models.ErrCodeProcessing, doc.ErrorCode)
}

func TestRunLogsEveryStageStartAndCompletion(t *testing.T) {
	doc := testDocument()
	env := newTestEnv(doc, 100)
	log, hook := logtest.NewNullLogger()
	env.orch.log = log

	require.NoError(t, env.orch.Run(context.Background(), doc.ID))

	started := map[string]bool{}
	completed := map[string]bool{}
	for _, entry := range hook.AllEntries() {
		stage, _ := entry.Data["stage"].(string)
		switch entry.Message {
		case "stage started":
			started[stage] = true
		case "stage completed":
			completed[stage] = true
		}
	}
	for _, name := range models.StageOrder {
		assert.True(t, started[name], "start log for %s", name)
		assert.True(t, completed[name], "completion log for %s", name)
	}
}

func TestValidateUploadCollectsAllViolations(t *testing.T) {
	verr := ValidateUpload("text/plain", 100)
	require.NotNil(t, verr)
	require.Len(t, verr.Violations, 2)
	assert.Contains(t, verr.Violations[0], "unsupported content type")
	assert.Contains(t, verr.Violations[1], "too small")

	verr = ValidateUpload("application/pdf", 20*1024*1024)
	require.NotNil(t, verr)
	require.Len(t, verr.Violations, 1)
	assert.Contains(t, verr.Violations[0], "too large")

	assert.Nil(t, ValidateUpload("image/png", 2048))
}
