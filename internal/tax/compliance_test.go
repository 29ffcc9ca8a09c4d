package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRatePerRegion(t *testing.T) {
	tests := map[string]string{
		"SA": "0.15",
		"AE": "0.05",
		"DE": "0.19",
		"GB": "0.2",
		"US": "0.08",
	}
	for region, want := range tests {
		rate, ok := Rate(region)
		require.True(t, ok, region)
		assert.True(t, rate.Equal(d(want)), region)
	}

	_, ok := Rate("FR")
	assert.False(t, ok)
}

func TestEvaluateCompliantSaudiInvoice(t *testing.T) {
	e := NewEvaluator("US")

	assessment := e.Evaluate(Input{
		Region:    "sa",
		TaxID:     "310123456789003",
		Subtotal:  d("1000"),
		TaxAmount: d("150"),
		Total:     d("1150"),
	})

	assert.Equal(t, models.TaxCompliant, assessment.Status)
	assert.Equal(t, "SA", assessment.Region)
	assert.Equal(t, "VAT", assessment.TaxName)
	assert.True(t, assessment.ExpectedTax.Equal(d("150")))
	assert.Empty(t, assessment.Errors)
	assert.Empty(t, assessment.Warnings)
}

func TestEvaluateTaxIDShapeErrors(t *testing.T) {
	e := NewEvaluator("US")

	missing := e.Evaluate(Input{Region: "DE", Subtotal: d("100")})
	assert.Equal(t, models.TaxNonCompliant, missing.Status)
	require.Len(t, missing.Errors, 1)
	assert.Contains(t, missing.Errors[0], "missing")

	short := e.Evaluate(Input{Region: "DE", TaxID: "DE1"})
	assert.Equal(t, models.TaxNonCompliant, short.Status)
	assert.Contains(t, short.Errors[0], "too short")

	// AE mandates exactly 15 digits; letters do not count.
	wrongDigits := e.Evaluate(Input{Region: "AE", TaxID: "TRN-1234567890"})
	assert.Equal(t, models.TaxNonCompliant, wrongDigits.Status)
	assert.Contains(t, wrongDigits.Errors[0], "15-digit")

	rightDigits := e.Evaluate(Input{Region: "AE", TaxID: "100123456789012"})
	assert.Empty(t, rightDigits.Errors)
}

func TestEvaluateAmountMismatchesAreWarnings(t *testing.T) {
	e := NewEvaluator("US")

	assessment := e.Evaluate(Input{
		Region:    "DE",
		TaxID:     "DE811907980",
		Subtotal:  d("1000"),
		TaxAmount: d("80"),   // 19% expected, 190
		Total:     d("2000"), // not subtotal + tax
	})

	assert.Equal(t, models.TaxCompliant, assessment.Status, "amount noise alone never blocks compliance")
	assert.Empty(t, assessment.Errors)
	require.Len(t, assessment.Warnings, 2)
	assert.Contains(t, assessment.Warnings[0], "differs from expected")
	assert.Contains(t, assessment.Warnings[1], "does not equal subtotal")
}

func TestEvaluateToleranceAbsorbsRounding(t *testing.T) {
	e := NewEvaluator("US")

	assessment := e.Evaluate(Input{
		Region:    "GB",
		TaxID:     "GB123456789",
		Subtotal:  d("99.99"),
		TaxAmount: d("20.10"), // expected 20.00, within 1%
		Total:     d("120.09"),
	})

	assert.Empty(t, assessment.Warnings)
}

func TestEvaluateUnknownRegion(t *testing.T) {
	e := NewEvaluator("US")

	assessment := e.Evaluate(Input{Region: "FR", TaxID: "FR12345678901"})

	assert.Equal(t, models.TaxUnknown, assessment.Status)
	assert.Empty(t, assessment.Errors)
	require.Len(t, assessment.Warnings, 1)
	assert.Contains(t, assessment.Warnings[0], "no tax rules configured")
}

func TestEvaluateEmptyRegionUsesDefault(t *testing.T) {
	e := NewEvaluator("US")

	assessment := e.Evaluate(Input{TaxID: "12-3456789", Subtotal: d("100")})

	assert.Equal(t, "US", assessment.Region)
	assert.Equal(t, "Sales Tax", assessment.TaxName)
	assert.True(t, assessment.ExpectedTax.Equal(d("8")))
}
