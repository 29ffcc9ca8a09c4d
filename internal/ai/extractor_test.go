package ai

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	result  *RouteResult
	err     error
	lastReq Request
}

func (f *fakeRouter) Route(ctx context.Context, req Request) (*RouteResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

const sampleOCRText = `Acme Supplies GmbH
Invoice No: INV-2026-0042
Date: 2026-07-01
VAT Reg No: DE811907980

Widgets ................ 1,000.00
VAT 19% ................ 190.00
Total: 1,190.00 EUR`

func TestExtractParsesFencedJSON(t *testing.T) {
	router := &fakeRouter{result: &RouteResult{
		Provider: "openai",
		Units:    340,
		Text: "```json\n" + `{
  "vendor": "Acme Supplies GmbH",
  "invoiceNumber": "INV-2026-0042",
  "invoiceDate": "2026-07-01",
  "dueDate": null,
  "subtotal": "1,000.00",
  "taxAmount": 190,
  "total": 1190.00,
  "currency": "eur",
  "taxId": "DE811907980",
  "region": "de",
  "category": "supplies",
  "items": [{"description": "Widgets", "quantity": 1, "unitPrice": "1,000.00", "amount": 1000}]
}` + "\n```",
	}}
	e := NewExtractor(router, []string{"supplies", "services", "other"})

	ext, provider, err := e.Extract(context.Background(), sampleOCRText, uuid.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "openai", provider)
	assert.Equal(t, "ai", ext.Source)
	require.NotNil(t, ext.Vendor)
	assert.Equal(t, "Acme Supplies GmbH", *ext.Vendor)
	assert.Nil(t, ext.DueDate)
	require.NotNil(t, ext.Subtotal)
	assert.True(t, ext.Subtotal.Equal(decimal.NewFromInt(1000)), "comma-separated string amount parses")
	require.NotNil(t, ext.Total)
	assert.True(t, ext.Total.Equal(decimal.NewFromInt(1190)))
	require.NotNil(t, ext.Currency)
	assert.Equal(t, "EUR", *ext.Currency)
	require.NotNil(t, ext.Region)
	assert.Equal(t, "DE", *ext.Region)
	require.NotNil(t, ext.InvoiceDate)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), ext.InvoiceDate.UTC())
	require.Len(t, ext.Items, 1)
	assert.True(t, ext.Items[0].UnitPrice.Equal(decimal.NewFromInt(1000)))

	// All fields present and amounts consistent: full marks.
	assert.InDelta(t, 1.0, ext.Confidence, 1e-9)
	assert.Equal(t, "invoice_extraction", router.lastReq.Operation)
}

func TestExtractDegradesToRegexOnBadJSON(t *testing.T) {
	router := &fakeRouter{result: &RouteResult{Provider: "ollama", Text: "Sure! Here is the extracted data:"}}
	e := NewExtractor(router, nil)

	ext, provider, err := e.Extract(context.Background(), sampleOCRText, uuid.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "ollama", provider)
	assert.Equal(t, "regex", ext.Source)
	require.NotNil(t, ext.Vendor)
	assert.Equal(t, "Acme Supplies GmbH", *ext.Vendor)
	require.NotNil(t, ext.Total)
	assert.True(t, ext.Total.Equal(decimal.RequireFromString("1190.00")))
	require.NotNil(t, ext.InvoiceNumber)
	assert.Equal(t, "INV-2026-0042", *ext.InvoiceNumber)
	require.NotNil(t, ext.TaxID)
	assert.Equal(t, "DE811907980", *ext.TaxID)
}

func TestExtractPropagatesRouterErrors(t *testing.T) {
	router := &fakeRouter{err: ErrNoProvidersAvailable}
	e := NewExtractor(router, nil)

	_, _, err := e.Extract(context.Background(), sampleOCRText, uuid.New(), "")
	require.ErrorIs(t, err, ErrNoProvidersAvailable)
}

func TestExtractWithRegexOnPlaceholderText(t *testing.T) {
	ext := ExtractWithRegex("[unreadable document: no text could be extracted]")

	assert.Nil(t, ext.Vendor, "bracketed placeholder lines are not vendors")
	assert.Nil(t, ext.Total)
	assert.Zero(t, ext.Confidence)
	assert.Equal(t, "regex", ext.Source)
}

func TestParseResponseNullHandling(t *testing.T) {
	ext, err := parseResponse(`{"vendor": "null", "total": null, "currency": ""}`)
	require.NoError(t, err)

	assert.Nil(t, ext.Vendor, `literal "null" strings are treated as absent`)
	assert.Nil(t, ext.Total)
	assert.Nil(t, ext.Currency)
}

func TestParseDateFormats(t *testing.T) {
	for _, s := range []string{"2026-07-01", "01/07/2026", "01-07-2026", "01.07.2026", "2026/07/01"} {
		assert.False(t, parseDate(s).IsZero(), s)
	}
	assert.True(t, parseDate("not a date").IsZero())
	assert.True(t, parseDate("").IsZero())
}

func TestCalculateConfidenceConsistencyBonus(t *testing.T) {
	subtotal := decimal.NewFromInt(100)
	tax := decimal.NewFromInt(15)
	matching := decimal.NewFromInt(115)
	off := decimal.NewFromInt(150)

	withBonus := calculateConfidence(&Extraction{Subtotal: &subtotal, TaxAmount: &tax, Total: &matching})
	withoutBonus := calculateConfidence(&Extraction{Subtotal: &subtotal, TaxAmount: &tax, Total: &off})

	assert.InDelta(t, 0.15, withBonus-withoutBonus, 1e-9)
}
