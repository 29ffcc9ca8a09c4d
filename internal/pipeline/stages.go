package pipeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/invoiceai/invoice-pipeline-service/internal/ai"
	"github.com/invoiceai/invoice-pipeline-service/internal/fraud"
	"github.com/invoiceai/invoice-pipeline-service/internal/models"
	"github.com/invoiceai/invoice-pipeline-service/internal/ocr"
	"github.com/invoiceai/invoice-pipeline-service/internal/tax"
)

// Upload constraints enforced at the API boundary and re-checked by the
// ingestion stage.
const (
	MinUploadSize = 1024
	MaxUploadSize = 10 * 1024 * 1024
)

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// ValidateUpload checks mime type and size bounds, collecting every
// violation rather than stopping at the first.
func ValidateUpload(mimeType string, sizeBytes int64) *ValidationError {
	var violations []string
	if !allowedMimeTypes[mimeType] {
		violations = append(violations,
			fmt.Sprintf("unsupported content type %q (allowed: application/pdf, image/jpeg, image/png)", mimeType))
	}
	if sizeBytes < MinUploadSize {
		violations = append(violations,
			fmt.Sprintf("file too small: %d bytes (minimum %d)", sizeBytes, MinUploadSize))
	}
	if sizeBytes > MaxUploadSize {
		violations = append(violations,
			fmt.Sprintf("file too large: %d bytes (maximum %d)", sizeBytes, MaxUploadSize))
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// runIngestion re-validates the stored payload and fetches its bytes for
// the rest of the run.
func (o *Orchestrator) runIngestion(ctx context.Context, r *run) (map[string]any, error) {
	doc := r.doc
	if verr := ValidateUpload(doc.MimeType, doc.SizeBytes); verr != nil {
		return nil, verr
	}

	raw, err := o.objects.Fetch(ctx, doc.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("document payload %s is empty", doc.ObjectKey)
	}
	r.raw = raw

	return map[string]any{"bytes": len(raw), "objectKey": doc.ObjectKey}, nil
}

// runOCR executes the extraction chain. A placeholder result is not a
// failure: it flows on with mock provenance and the fraud stage penalizes
// the low confidence.
func (o *Orchestrator) runOCR(ctx context.Context, r *run) (map[string]any, error) {
	result, err := o.chain.Extract(ctx, r.raw, r.doc.MimeType)
	if err != nil {
		return nil, err
	}

	r.doc.OCRText = result.Text
	r.doc.OCRConfidence = result.Confidence
	r.doc.OCRMethod = result.Method

	return map[string]any{
		"method":     result.Method,
		"confidence": result.Confidence,
		"characters": len(result.Text),
		"steps":      result.Steps,
	}, nil
}

// runClassification extracts structured fields. Placeholder OCR text skips
// the AI round trip and goes straight to regex heuristics; real text routes
// through the provider pool, and an exhausted pool fails the stage.
func (o *Orchestrator) runClassification(ctx context.Context, r *run) (map[string]any, error) {
	doc := r.doc

	var extraction *ai.Extraction
	provider := "none"
	if doc.OCRMethod == ocr.MethodMock {
		extraction = ai.ExtractWithRegex(doc.OCRText)
	} else {
		var err error
		extraction, provider, err = o.extractor.Extract(ctx, doc.OCRText, doc.AccountID, "")
		if err != nil {
			return nil, err
		}
	}

	applyExtraction(doc, extraction)

	return map[string]any{
		"provider":   provider,
		"source":     extraction.Source,
		"confidence": extraction.Confidence,
		"vendor":     doc.Vendor != nil,
		"total":      doc.Total != nil,
	}, nil
}

// runFraudDetection scores the document against the account's invoice
// history.
func (o *Orchestrator) runFraudDetection(ctx context.Context, r *run) (map[string]any, error) {
	doc := r.doc

	previous, err := o.docs.ListDocumentsByAccount(ctx, doc.AccountID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load account history: %w", err)
	}

	var history []fraud.HistoryInvoice
	for _, prev := range previous {
		if prev.ID == doc.ID {
			continue
		}
		h := fraud.HistoryInvoice{}
		if prev.Vendor != nil {
			h.Vendor = *prev.Vendor
		}
		if prev.Total != nil {
			h.Amount = *prev.Total
		}
		if prev.InvoiceDate != nil {
			h.Date = *prev.InvoiceDate
		}
		history = append(history, h)
	}

	inv := fraud.Invoice{OCRConfidence: doc.OCRConfidence}
	if doc.Vendor != nil {
		inv.Vendor = *doc.Vendor
	}
	if doc.Total != nil {
		inv.Amount = *doc.Total
	}
	if doc.InvoiceDate != nil {
		inv.Date = *doc.InvoiceDate
	}
	if doc.TaxID != nil {
		inv.TaxID = *doc.TaxID
	}

	assessment := o.scorer.Score(inv, history, o.now())
	doc.Risk = &assessment

	return map[string]any{
		"level": string(assessment.Level),
		"score": assessment.Score,
		"flags": assessment.Flags,
	}, nil
}

// runTaxCompliance evaluates the regional tax rules.
func (o *Orchestrator) runTaxCompliance(ctx context.Context, r *run) (map[string]any, error) {
	doc := r.doc

	in := tax.Input{}
	if doc.Region != nil {
		in.Region = *doc.Region
	}
	if doc.TaxID != nil {
		in.TaxID = *doc.TaxID
	}
	if doc.Subtotal != nil {
		in.Subtotal = *doc.Subtotal
	}
	if doc.TaxAmount != nil {
		in.TaxAmount = *doc.TaxAmount
	}
	if doc.Total != nil {
		in.Total = *doc.Total
	}

	assessment := o.tax.Evaluate(in)
	doc.Tax = &assessment

	return map[string]any{
		"status":   string(assessment.Status),
		"region":   assessment.Region,
		"errors":   len(assessment.Errors),
		"warnings": len(assessment.Warnings),
	}, nil
}

// runReporting finalizes the document.
func (o *Orchestrator) runReporting(ctx context.Context, r *run) (map[string]any, error) {
	doc := r.doc
	now := o.now().UTC()
	doc.Status = models.StatusCompleted
	doc.ProcessedAt = &now

	summary := map[string]any{
		"ocrMethod": doc.OCRMethod,
	}
	if doc.Vendor != nil {
		summary["vendor"] = *doc.Vendor
	}
	if doc.Total != nil {
		summary["total"] = doc.Total.String()
	}
	if doc.Risk != nil {
		summary["riskLevel"] = string(doc.Risk.Level)
	}
	if doc.Tax != nil {
		summary["taxStatus"] = string(doc.Tax.Status)
	}
	return summary, nil
}

// applyExtraction merges non-nil extracted fields into the document.
func applyExtraction(doc *models.Document, ext *ai.Extraction) {
	if ext.Vendor != nil {
		doc.Vendor = ext.Vendor
	}
	if ext.InvoiceNumber != nil {
		doc.InvoiceNumber = ext.InvoiceNumber
	}
	if ext.InvoiceDate != nil {
		doc.InvoiceDate = ext.InvoiceDate
	}
	if ext.DueDate != nil {
		doc.DueDate = ext.DueDate
	}
	if ext.Subtotal != nil {
		doc.Subtotal = ext.Subtotal
	}
	if ext.TaxAmount != nil {
		doc.TaxAmount = ext.TaxAmount
	}
	if ext.Total != nil {
		doc.Total = ext.Total
	}
	if ext.Currency != nil {
		doc.Currency = ext.Currency
	}
	if ext.TaxID != nil {
		doc.TaxID = ext.TaxID
	}
	if ext.Region != nil {
		doc.Region = ext.Region
	}
	if ext.Category != nil {
		doc.Category = ext.Category
	}
	if len(ext.Items) > 0 {
		doc.Items = ext.Items
	}
	// A subtotal-only invoice still gets a usable total for scoring.
	if doc.Total == nil && ext.Subtotal != nil && ext.TaxAmount != nil {
		total := ext.Subtotal.Add(*ext.TaxAmount)
		if total.GreaterThan(decimal.Zero) {
			doc.Total = &total
		}
	}
}
