package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// Routing abstracts the provider router so the extractor can be tested
// against fakes.
type Routing interface {
	Route(ctx context.Context, req Request) (*RouteResult, error)
}

// Extraction is the structured data pulled from invoice text. Every field
// is independently nullable: a nil pointer means the source text did not
// yield that field.
type Extraction struct {
	Vendor        *string
	InvoiceNumber *string
	InvoiceDate   *time.Time
	DueDate       *time.Time
	Subtotal      *decimal.Decimal
	TaxAmount     *decimal.Decimal
	Total         *decimal.Decimal
	Currency      *string
	TaxID         *string
	Region        *string
	Category      *string
	Items         []models.LineItem
	Confidence    float64
	Source        string // "ai" or "regex"
}

// Extractor turns OCR text into an Extraction, routing the prompt through
// the provider router and falling back to regex heuristics when the AI
// response is not parseable JSON.
type Extractor struct {
	router     Routing
	categories []string
}

// NewExtractor creates an extractor over the given router.
func NewExtractor(router Routing, categories []string) *Extractor {
	return &Extractor{router: router, categories: categories}
}

// Extract routes the extraction prompt and parses the response. The
// returned string is the provider that served the request. Router errors
// propagate: an exhausted provider pool fails the caller's stage.
func (e *Extractor) Extract(ctx context.Context, ocrText string, accountID uuid.UUID, preferred string) (*Extraction, string, error) {
	result, err := e.router.Route(ctx, Request{
		Prompt:    e.buildPrompt(ocrText),
		Operation: "invoice_extraction",
		Preferred: preferred,
		AccountID: accountID,
	})
	if err != nil {
		return nil, "", err
	}

	extraction, err := parseResponse(result.Text)
	if err != nil {
		// Unparseable AI output degrades to heuristics instead of
		// failing the document.
		extraction = ExtractWithRegex(ocrText)
	}
	return extraction, result.Provider, nil
}

func (e *Extractor) buildPrompt(ocrText string) string {
	return fmt.Sprintf(`You are an invoice data extraction system. Extract structured data from the OCR text of an invoice below.

Return ONLY valid JSON (no markdown, no comments) with exactly these fields:
{
  "vendor": "vendor/supplier company name, or null",
  "invoiceNumber": "invoice number or reference, or null",
  "invoiceDate": "YYYY-MM-DD, or null",
  "dueDate": "YYYY-MM-DD, or null",
  "subtotal": number before tax, or null,
  "taxAmount": tax/VAT amount, or null,
  "total": final amount due, or null,
  "currency": "ISO 4217 code like USD, EUR, SAR, AED, or null",
  "taxId": "vendor tax registration / VAT number, or null",
  "region": "ISO country code of the vendor (SA, AE, DE, GB, US, ...), or null",
  "category": "one of: %s",
  "items": [{"description": "...", "quantity": 1, "unitPrice": 0, "amount": 0}]
}

Rules:
1. NEVER invent values. Use null for anything you cannot read.
2. Amounts are plain numbers, not strings.
3. The total is usually the largest amount near the end.
4. The tax id often follows labels like "VAT", "TRN", "Tax ID", "VAT Reg No".

Invoice text:
%s`, strings.Join(e.categories, ", "), ocrText)
}

type rawExtraction struct {
	Vendor        string      `json:"vendor"`
	InvoiceNumber string      `json:"invoiceNumber"`
	InvoiceDate   string      `json:"invoiceDate"`
	DueDate       string      `json:"dueDate"`
	Subtotal      interface{} `json:"subtotal"`
	TaxAmount     interface{} `json:"taxAmount"`
	Total         interface{} `json:"total"`
	Currency      string      `json:"currency"`
	TaxID         string      `json:"taxId"`
	Region        string      `json:"region"`
	Category      string      `json:"category"`
	Items         []struct {
		Description string      `json:"description"`
		Quantity    interface{} `json:"quantity"`
		UnitPrice   interface{} `json:"unitPrice"`
		Amount      interface{} `json:"amount"`
	} `json:"items"`
}

// parseResponse converts an AI JSON response into an Extraction. Numeric
// fields arrive as interface{} so strings with thousands separators still
// parse.
func parseResponse(response string) (*Extraction, error) {
	cleaned := strings.TrimSpace(response)
	fence := "```"
	cleaned = strings.ReplaceAll(cleaned, fence+"json", "")
	cleaned = strings.ReplaceAll(cleaned, fence, "")
	cleaned = strings.TrimSpace(cleaned)

	var raw rawExtraction
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}

	ext := &Extraction{
		Vendor:        stringPtr(raw.Vendor),
		InvoiceNumber: stringPtr(raw.InvoiceNumber),
		InvoiceDate:   datePtr(raw.InvoiceDate),
		DueDate:       datePtr(raw.DueDate),
		Subtotal:      decimalPtr(raw.Subtotal),
		TaxAmount:     decimalPtr(raw.TaxAmount),
		Total:         decimalPtr(raw.Total),
		Currency:      stringPtr(strings.ToUpper(raw.Currency)),
		TaxID:         stringPtr(raw.TaxID),
		Region:        stringPtr(strings.ToUpper(raw.Region)),
		Category:      stringPtr(raw.Category),
		Source:        "ai",
	}

	for _, item := range raw.Items {
		ext.Items = append(ext.Items, models.LineItem{
			Description: item.Description,
			Quantity:    parseDecimal(item.Quantity),
			UnitPrice:   parseDecimal(item.UnitPrice),
			Amount:      parseDecimal(item.Amount),
		})
	}

	ext.Confidence = calculateConfidence(ext)
	return ext, nil
}

// calculateConfidence scores extraction quality from field presence plus an
// amount consistency bonus.
//
//	vendor 0.15, total 0.15, date 0.15, taxId 0.10, invoiceNumber 0.10,
//	subtotal 0.05, currency 0.05, region 0.05, items 0.05,
//	bonus 0.15 when total ≈ subtotal + tax (within 5%)
func calculateConfidence(ext *Extraction) float64 {
	var score float64

	if ext.Vendor != nil {
		score += 0.15
	}
	if ext.Total != nil && ext.Total.GreaterThan(decimal.Zero) {
		score += 0.15
	}
	if ext.InvoiceDate != nil {
		score += 0.15
	}
	if ext.TaxID != nil {
		score += 0.10
	}
	if ext.InvoiceNumber != nil {
		score += 0.10
	}
	if ext.Subtotal != nil && ext.Subtotal.GreaterThan(decimal.Zero) {
		score += 0.05
	}
	if ext.Currency != nil {
		score += 0.05
	}
	if ext.Region != nil {
		score += 0.05
	}
	if len(ext.Items) > 0 {
		score += 0.05
	}

	if ext.Total != nil && ext.Subtotal != nil && ext.TaxAmount != nil &&
		ext.Total.GreaterThan(decimal.Zero) {
		expected := ext.Subtotal.Add(*ext.TaxAmount)
		diff := ext.Total.Sub(expected).Abs()
		tolerance := ext.Total.Mul(decimal.NewFromFloat(0.05))
		if diff.LessThanOrEqual(tolerance) {
			score += 0.15
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Regex fallback patterns.
var (
	totalRegex   = regexp.MustCompile(`(?i)(?:total|amount\s+due|balance\s+due|grand\s+total)[:\s]*[^\d]{0,4}([\d,]+\.?\d{0,2})`)
	dateRegex    = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}|\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4})`)
	invoiceRegex = regexp.MustCompile(`(?i)(?:invoice|inv|bill)\s*(?:no|num|number|#)?[.:\s#]*([A-Z0-9][A-Z0-9-]{2,20})`)
	taxIDRegex   = regexp.MustCompile(`(?i)(?:vat|trn|tax\s*id|vat\s*reg(?:\.|istration)?\s*(?:no)?)[.:\s#]*([A-Z0-9][A-Z0-9-]{3,20})`)
)

// ExtractWithRegex pulls what it can from raw text with heuristic patterns.
// It backs two degraded paths: unparseable AI output, and placeholder OCR
// text where spending provider tokens would be wasted.
func ExtractWithRegex(ocrText string) *Extraction {
	ext := &Extraction{Source: "regex"}

	if m := totalRegex.FindStringSubmatch(ocrText); len(m) > 1 {
		if d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "")); err == nil && d.GreaterThan(decimal.Zero) {
			ext.Total = &d
		}
	}
	if m := dateRegex.FindStringSubmatch(ocrText); len(m) > 1 {
		ext.InvoiceDate = datePtr(m[1])
	}
	if m := invoiceRegex.FindStringSubmatch(ocrText); len(m) > 1 {
		ext.InvoiceNumber = stringPtr(m[1])
	}
	if m := taxIDRegex.FindStringSubmatch(ocrText); len(m) > 1 {
		ext.TaxID = stringPtr(m[1])
	}

	// First non-empty line is the best vendor guess on most invoices.
	for _, line := range strings.Split(ocrText, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= 3 && !strings.HasPrefix(line, "[") {
			ext.Vendor = &line
			break
		}
	}

	ext.Confidence = calculateConfidence(ext)
	return ext
}

// Helpers shared by the AI and regex paths.

func stringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

func datePtr(s string) *time.Time {
	t := parseDate(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func decimalPtr(v interface{}) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := parseDecimal(v)
	return &d
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	formats := []string{
		"2006-01-02",
		"02/01/2006",
		"02-01-2006",
		"02.01.2006",
		"2006/01/02",
		"01/02/2006",
		"02/01/06",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseDecimal handles flexible number parsing from interface{}.
// Supports numbers, strings, and strings with thousands separators.
func parseDecimal(v interface{}) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}

	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case string:
		if val == "" {
			return decimal.Zero
		}
		cleaned := strings.ReplaceAll(val, ",", "")
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
