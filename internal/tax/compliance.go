package tax

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// RegionRule describes one region's tax regime: the rate, the local name of
// the tax, and the expected tax id length (0 means no fixed length).
type RegionRule struct {
	Rate        decimal.Decimal
	TaxName     string
	TaxIDDigits int
}

// regionRules covers the supported regions. SA and AE mandate 15-digit VAT
// registration numbers.
var regionRules = map[string]RegionRule{
	"SA": {Rate: decimal.NewFromFloat(0.15), TaxName: "VAT", TaxIDDigits: 15},
	"AE": {Rate: decimal.NewFromFloat(0.05), TaxName: "VAT", TaxIDDigits: 15},
	"DE": {Rate: decimal.NewFromFloat(0.19), TaxName: "VAT"},
	"GB": {Rate: decimal.NewFromFloat(0.20), TaxName: "VAT"},
	"US": {Rate: decimal.NewFromFloat(0.08), TaxName: "Sales Tax"},
}

// amountTolerance is the relative tolerance for amount cross-checks.
var amountTolerance = decimal.NewFromFloat(0.01)

// Input is the evaluator's view of a document. Zero values stand for
// fields the extractor could not read.
type Input struct {
	Region    string
	TaxID     string
	Subtotal  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// Evaluator checks regional tax compliance. Pure computation, no storage.
type Evaluator struct {
	defaultRegion string
	now           func() time.Time
}

// NewEvaluator creates an evaluator. Documents without a detected region
// evaluate under defaultRegion.
func NewEvaluator(defaultRegion string) *Evaluator {
	return &Evaluator{defaultRegion: defaultRegion, now: time.Now}
}

// Rate returns the tax rate for a region, and whether the region is known.
func Rate(region string) (decimal.Decimal, bool) {
	rule, ok := regionRules[strings.ToUpper(region)]
	if !ok {
		return decimal.Zero, false
	}
	return rule.Rate, true
}

// Evaluate produces the full assessment: expected tax from the regional
// rate, tax id shape checks as errors, and amount consistency issues as
// warnings. All violations are collected, not just the first.
func (e *Evaluator) Evaluate(in Input) models.TaxAssessment {
	region := strings.ToUpper(strings.TrimSpace(in.Region))
	if region == "" {
		region = e.defaultRegion
	}

	assessment := models.TaxAssessment{
		Region:      region,
		Status:      models.TaxCompliant,
		Errors:      []string{},
		Warnings:    []string{},
		EvaluatedAt: e.now().UTC(),
	}

	rule, known := regionRules[region]
	if !known {
		assessment.Status = models.TaxUnknown
		assessment.Warnings = append(assessment.Warnings,
			fmt.Sprintf("no tax rules configured for region %s", region))
		return assessment
	}
	assessment.TaxRate = rule.Rate
	assessment.TaxName = rule.TaxName

	if in.Subtotal.GreaterThan(decimal.Zero) {
		assessment.ExpectedTax = in.Subtotal.Mul(rule.Rate).Round(2)
	}

	// Tax id shape checks.
	taxID := strings.TrimSpace(in.TaxID)
	switch {
	case taxID == "":
		assessment.Errors = append(assessment.Errors, "tax id is missing")
	case len(taxID) < 5:
		assessment.Errors = append(assessment.Errors,
			fmt.Sprintf("tax id %q is too short", taxID))
	case rule.TaxIDDigits > 0:
		digits := digitCount(taxID)
		if digits != rule.TaxIDDigits {
			assessment.Errors = append(assessment.Errors,
				fmt.Sprintf("%s requires a %d-digit %s registration number, got %d digits",
					region, rule.TaxIDDigits, rule.TaxName, digits))
		}
	}

	// Amount consistency checks are warnings: OCR noise should not make a
	// document non-compliant by itself.
	if in.Subtotal.GreaterThan(decimal.Zero) && in.TaxAmount.GreaterThan(decimal.Zero) {
		diff := in.TaxAmount.Sub(assessment.ExpectedTax).Abs()
		tolerance := maxDecimal(assessment.ExpectedTax.Mul(amountTolerance), decimal.NewFromFloat(0.01))
		if diff.GreaterThan(tolerance) {
			assessment.Warnings = append(assessment.Warnings,
				fmt.Sprintf("stated tax %s differs from expected %s %s at %s%%",
					in.TaxAmount, rule.TaxName, assessment.ExpectedTax,
					rule.Rate.Mul(decimal.NewFromInt(100))))
		}
	}
	if in.Subtotal.GreaterThan(decimal.Zero) && in.Total.GreaterThan(decimal.Zero) && in.TaxAmount.GreaterThan(decimal.Zero) {
		expectedTotal := in.Subtotal.Add(in.TaxAmount)
		diff := in.Total.Sub(expectedTotal).Abs()
		tolerance := maxDecimal(expectedTotal.Mul(amountTolerance), decimal.NewFromFloat(0.01))
		if diff.GreaterThan(tolerance) {
			assessment.Warnings = append(assessment.Warnings,
				fmt.Sprintf("total %s does not equal subtotal %s plus tax %s",
					in.Total, in.Subtotal, in.TaxAmount))
		}
	}

	if len(assessment.Errors) > 0 {
		assessment.Status = models.TaxNonCompliant
	}
	return assessment
}

func digitCount(s string) int {
	count := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			count++
		}
	}
	return count
}

func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
