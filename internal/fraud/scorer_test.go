package fraud

import (
	"math/rand"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

var testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func cleanInvoice() Invoice {
	return Invoice{
		Vendor:        "Acme Supplies",
		Amount:        decimal.NewFromInt(500),
		Date:          testNow.AddDate(0, 0, -10),
		TaxID:         "DE811907980",
		OCRConfidence: 0.92,
	}
}

func knownVendorHistory() []HistoryInvoice {
	return []HistoryInvoice{
		{Vendor: "Acme Supplies", Amount: decimal.NewFromInt(450), Date: testNow.AddDate(0, -2, 0)},
		{Vendor: "Acme Supplies", Amount: decimal.NewFromInt(550), Date: testNow.AddDate(0, -1, 0)},
	}
}

func TestScoreCleanInvoice(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assessment := s.Score(cleanInvoice(), knownVendorHistory(), testNow)

	assert.Equal(t, models.RiskLow, assessment.Level)
	assert.Zero(t, assessment.Score)
	assert.Empty(t, assessment.Flags)
}

func TestScoreHighAmount(t *testing.T) {
	s := NewScorer(DefaultConfig())
	inv := cleanInvoice()
	inv.Amount = decimal.NewFromInt(10001)

	assessment := s.Score(inv, nil, testNow)

	assert.Contains(t, assessment.Flags, FlagHighAmount)
	assert.Contains(t, assessment.Flags, FlagNewVendor)
	assert.InDelta(t, 0.50, assessment.Score, 1e-9)
	assert.Equal(t, models.RiskMedium, assessment.Level)
}

func TestScoreThresholdIsExclusive(t *testing.T) {
	s := NewScorer(DefaultConfig())
	inv := cleanInvoice()
	inv.Amount = decimal.NewFromInt(10000)

	assessment := s.Score(inv, knownVendorHistory(), testNow)

	assert.NotContains(t, assessment.Flags, FlagHighAmount)
}

func TestScoreNewVendorAndAnomalyAreExclusive(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// Unknown vendor: novelty flag only, no anomaly possible.
	inv := cleanInvoice()
	inv.Vendor = "Never Seen Before Ltd"
	assessment := s.Score(inv, knownVendorHistory(), testNow)
	assert.Contains(t, assessment.Flags, FlagNewVendor)
	assert.NotContains(t, assessment.Flags, FlagAmountAnomaly)

	// Known vendor, wild amount: anomaly, no novelty.
	inv = cleanInvoice()
	inv.Amount = decimal.NewFromInt(5000) // avg 500, deviation 9x
	assessment = s.Score(inv, knownVendorHistory(), testNow)
	assert.Contains(t, assessment.Flags, FlagAmountAnomaly)
	assert.NotContains(t, assessment.Flags, FlagNewVendor)
}

func TestScoreDuplicateWindow(t *testing.T) {
	s := NewScorer(DefaultConfig())
	inv := cleanInvoice()

	within := append(knownVendorHistory(), HistoryInvoice{
		Vendor: "acme supplies", // matching is case-insensitive
		Amount: inv.Amount,
		Date:   inv.Date.AddDate(0, 0, -6),
	})
	assessment := s.Score(inv, within, testNow)
	assert.Contains(t, assessment.Flags, FlagPotentialDuplicate)
	assert.Equal(t, models.RiskMedium, assessment.Level)

	outside := append(knownVendorHistory(), HistoryInvoice{
		Vendor: "Acme Supplies",
		Amount: inv.Amount,
		Date:   inv.Date.AddDate(0, 0, -8),
	})
	assessment = s.Score(inv, outside, testNow)
	assert.NotContains(t, assessment.Flags, FlagPotentialDuplicate)
}

func TestScoreWorstCaseClampsToOne(t *testing.T) {
	s := NewScorer(DefaultConfig())

	inv := Invoice{
		Vendor:        "Shady Corp",
		Amount:        decimal.NewFromInt(50000),
		Date:          testNow.AddDate(0, -6, 0),
		TaxID:         "x",
		OCRConfidence: 0.2,
	}
	history := []HistoryInvoice{{
		Vendor: "Shady Corp",
		Amount: decimal.NewFromInt(50000),
		Date:   inv.Date.AddDate(0, 0, -3),
	}}

	// HIGH_AMOUNT + AMOUNT_ANOMALY(no: known vendor, same amount → no
	// deviation) ... duplicate + old + low ocr + tax id already exceed 1.
	assessment := s.Score(inv, history, testNow)

	require.LessOrEqual(t, assessment.Score, 1.0)
	assert.Equal(t, 1.0, assessment.Score)
	assert.Equal(t, models.RiskHigh, assessment.Level)
	assert.NotEmpty(t, assessment.Recommendations)
}

func TestScoreCompositeUnverifiedHighValueInvoice(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// 15000 from an unseen vendor, barely readable scan, no tax id:
	// 0.30 + 0.20 + 0.30 + 0.10.
	inv := Invoice{
		Vendor:        "Nightfall Trading",
		Amount:        decimal.NewFromInt(15000),
		Date:          testNow.AddDate(0, 0, -5),
		TaxID:         "",
		OCRConfidence: 0.4,
	}

	assessment := s.Score(inv, nil, testNow)

	assert.ElementsMatch(t, []string{
		FlagHighAmount,
		FlagNewVendor,
		FlagLowOCRConfidence,
		FlagMissingTaxID,
	}, assessment.Flags)
	assert.InDelta(t, 0.90, assessment.Score, 1e-9)
	assert.Equal(t, models.RiskHigh, assessment.Level)
}

func TestScoreRuleOrderDoesNotMatter(t *testing.T) {
	gofakeit.Seed(42)

	var history []HistoryInvoice
	for i := 0; i < 20; i++ {
		history = append(history, HistoryInvoice{
			Vendor: gofakeit.Company(),
			Amount: decimal.NewFromFloat(gofakeit.Price(10, 20000)),
			Date:   testNow.AddDate(0, 0, -gofakeit.Number(1, 300)),
		})
	}
	inv := Invoice{
		Vendor:        history[3].Vendor,
		Amount:        history[3].Amount,
		Date:          history[3].Date.AddDate(0, 0, 2),
		TaxID:         "",
		OCRConfidence: 0.5,
	}

	s := NewScorer(DefaultConfig())
	baseline := s.Score(inv, history, testNow)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := NewScorer(DefaultConfig())
		rng.Shuffle(len(shuffled.rules), func(a, b int) {
			shuffled.rules[a], shuffled.rules[b] = shuffled.rules[b], shuffled.rules[a]
		})
		assessment := shuffled.Score(inv, history, testNow)

		assert.Equal(t, baseline.Score, assessment.Score)
		assert.Equal(t, baseline.Level, assessment.Level)
		assert.Equal(t, baseline.Flags, assessment.Flags)
		assert.Equal(t, baseline.Reasons, assessment.Reasons)
	}
}

func TestScoreMissingInputsDegradeNotError(t *testing.T) {
	s := NewScorer(DefaultConfig())

	assessment := s.Score(Invoice{}, nil, testNow)

	// Empty invoice: new vendor (nothing in history), low OCR confidence
	// (zero), missing tax id. No date rule (zero date), no amount rules.
	assert.ElementsMatch(t, []string{FlagLowOCRConfidence, FlagMissingTaxID, FlagNewVendor}, assessment.Flags)
	assert.InDelta(t, 0.60, assessment.Score, 1e-9)
	assert.Equal(t, models.RiskMedium, assessment.Level)
}
