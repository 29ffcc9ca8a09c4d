package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Pipeline stage names, in execution order.
const (
	StageIngestion      = "ingestion"
	StageOCR            = "ocr"
	StageClassification = "classification"
	StageFraudDetection = "fraud_detection"
	StageTaxCompliance  = "tax_compliance"
	StageReporting      = "reporting"
)

// StageOrder lists the stages in the order the orchestrator runs them.
var StageOrder = []string{
	StageIngestion,
	StageOCR,
	StageClassification,
	StageFraudDetection,
	StageTaxCompliance,
	StageReporting,
}

// ErrorCode classifies a failed document so clients can react without
// parsing the free-text error message.
type ErrorCode string

const (
	ErrCodeQuotaExceeded      ErrorCode = "quota_exceeded"
	ErrCodeProvidersExhausted ErrorCode = "providers_exhausted"
	ErrCodeValidation         ErrorCode = "validation"
	ErrCodeProcessing         ErrorCode = "processing_error"
)

// StageState marks a stage's completion within a document's pipeline run.
type StageState struct {
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

// PipelineState maps stage name to its completion state.
type PipelineState map[string]StageState

// LineItem is a single extracted invoice line.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

// RiskLevel buckets a fraud score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is the output of the fraud scorer.
type RiskAssessment struct {
	Level           RiskLevel `json:"level"`
	Score           float64   `json:"score"`
	Flags           []string  `json:"flags"`
	Reasons         []string  `json:"reasons"`
	Recommendations []string  `json:"recommendations"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// TaxStatus is the compliance verdict for a document.
type TaxStatus string

const (
	TaxCompliant    TaxStatus = "compliant"
	TaxNonCompliant TaxStatus = "non_compliant"
	TaxUnknown      TaxStatus = "unknown"
)

// TaxAssessment is the output of the tax compliance evaluator.
type TaxAssessment struct {
	Region      string          `json:"region"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	TaxName     string          `json:"taxName"`
	ExpectedTax decimal.Decimal `json:"expectedTax"`
	Status      TaxStatus       `json:"status"`
	Errors      []string        `json:"errors"`
	Warnings    []string        `json:"warnings"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// Document is an uploaded invoice and everything the pipeline derived from it.
// Extracted fields are pointers: absent means the extractor could not read
// them, which downstream stages treat as a degraded signal rather than an
// error.
type Document struct {
	ID        uuid.UUID      `json:"id"`
	AccountID uuid.UUID      `json:"accountId"`
	FileName  string         `json:"fileName"`
	ObjectKey string         `json:"objectKey"`
	MimeType  string         `json:"mimeType"`
	SizeBytes int64          `json:"sizeBytes"`
	Status    DocumentStatus `json:"status"`

	// Extracted invoice fields.
	Vendor        *string          `json:"vendor,omitempty"`
	InvoiceNumber *string          `json:"invoiceNumber,omitempty"`
	InvoiceDate   *time.Time       `json:"invoiceDate,omitempty"`
	DueDate       *time.Time       `json:"dueDate,omitempty"`
	Subtotal      *decimal.Decimal `json:"subtotal,omitempty"`
	TaxAmount     *decimal.Decimal `json:"taxAmount,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Currency      *string          `json:"currency,omitempty"`
	TaxID         *string          `json:"taxId,omitempty"`
	Region        *string          `json:"region,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Items         []LineItem       `json:"items,omitempty"`

	// OCR provenance.
	OCRText       string  `json:"ocrText,omitempty"`
	OCRConfidence float64 `json:"ocrConfidence"`
	OCRMethod     string  `json:"ocrMethod,omitempty"`

	Risk *RiskAssessment `json:"risk,omitempty"`
	Tax  *TaxAssessment  `json:"tax,omitempty"`

	Pipeline     PipelineState `json:"pipeline"`
	TokensUsed   int64         `json:"tokensUsed"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	ErrorCode    ErrorCode     `json:"errorCode,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StageStatus is the terminal state of a single stage execution.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageRecord is an append-only audit record of one stage execution.
// Records are never updated or deleted.
type StageRecord struct {
	ID             uuid.UUID      `json:"id"`
	AccountID      uuid.UUID      `json:"accountId"`
	DocumentID     uuid.UUID      `json:"documentId"`
	Stage          string         `json:"stage"`
	Status         StageStatus    `json:"status"`
	DurationMS     int64          `json:"durationMs"`
	TokensCharged  int64          `json:"tokensCharged"`
	InputSnapshot  map[string]any `json:"inputSnapshot,omitempty"`
	OutputSnapshot map[string]any `json:"outputSnapshot,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ProviderUsage is an append-only record of one AI provider attempt.
// Daily quota consumption is always recomputed from these rows, never cached.
type ProviderUsage struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"accountId"`
	Provider     string          `json:"provider"`
	Operation    string          `json:"operation"`
	Units        int64           `json:"units"`
	Cost         decimal.Decimal `json:"cost"`
	LatencyMS    int64           `json:"latencyMs"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
