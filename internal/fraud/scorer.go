package fraud

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// Flags raised by the scoring rules.
const (
	FlagHighAmount         = "HIGH_AMOUNT"
	FlagNewVendor          = "NEW_VENDOR"
	FlagAmountAnomaly      = "AMOUNT_ANOMALY"
	FlagOldInvoice         = "OLD_INVOICE"
	FlagLowOCRConfidence   = "LOW_OCR_CONFIDENCE"
	FlagMissingTaxID       = "MISSING_TAX_ID"
	FlagPotentialDuplicate = "POTENTIAL_DUPLICATE"
)

// Risk tier boundaries on the clamped score.
const (
	highRiskThreshold   = 0.70
	mediumRiskThreshold = 0.40
)

// Invoice is the scorer's view of the document under evaluation. Zero
// values mean the field was not extracted; rules degrade accordingly
// instead of erroring.
type Invoice struct {
	Vendor        string
	Amount        decimal.Decimal
	Date          time.Time
	TaxID         string
	OCRConfidence float64
}

// HistoryInvoice is one prior invoice of the same account.
type HistoryInvoice struct {
	Vendor string
	Amount decimal.Decimal
	Date   time.Time
}

// Config carries the tunable rule constants.
type Config struct {
	HighAmountThreshold decimal.Decimal
	DeviationMultiplier decimal.Decimal
	DuplicateWindow     time.Duration
	StaleAge            time.Duration
}

// DefaultConfig returns the standard rule constants.
func DefaultConfig() Config {
	return Config{
		HighAmountThreshold: decimal.NewFromInt(10000),
		DeviationMultiplier: decimal.NewFromInt(2),
		DuplicateWindow:     7 * 24 * time.Hour,
		StaleAge:            90 * 24 * time.Hour,
	}
}

// Scorer evaluates deterministic fraud rules. It holds no state and never
// touches storage; history comes in as an argument.
type Scorer struct {
	cfg   Config
	rules []rule
}

// hit is one triggered rule's contribution.
type hit struct {
	weight         float64
	flag           string
	reason         string
	recommendation string
}

type rule func(cfg Config, inv Invoice, history []HistoryInvoice, now time.Time) *hit

// NewScorer creates a scorer with the given constants.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		cfg: cfg,
		rules: []rule{
			highAmountRule,
			vendorHistoryRule,
			oldInvoiceRule,
			lowOCRConfidenceRule,
			missingTaxIDRule,
			duplicateRule,
		},
	}
}

// Score runs every rule and combines their weights additively, clamped to
// [0,1]. The rules are independent: the result is identical regardless of
// evaluation order.
func (s *Scorer) Score(inv Invoice, history []HistoryInvoice, now time.Time) models.RiskAssessment {
	hits := make([]hit, 0, len(s.rules))
	for _, r := range s.rules {
		if h := r(s.cfg, inv, history, now); h != nil {
			hits = append(hits, *h)
		}
	}

	// Deterministic output ordering independent of rule order.
	sort.Slice(hits, func(i, j int) bool { return hits[i].flag < hits[j].flag })

	assessment := models.RiskAssessment{
		Flags:           []string{},
		Reasons:         []string{},
		Recommendations: []string{},
		EvaluatedAt:     now.UTC(),
	}
	var score float64
	for _, h := range hits {
		score += h.weight
		assessment.Flags = append(assessment.Flags, h.flag)
		assessment.Reasons = append(assessment.Reasons, h.reason)
		if h.recommendation != "" {
			assessment.Recommendations = append(assessment.Recommendations, h.recommendation)
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	assessment.Score = score

	switch {
	case score >= highRiskThreshold:
		assessment.Level = models.RiskHigh
		assessment.Recommendations = append(assessment.Recommendations,
			"Hold payment and require manual review before approval")
	case score >= mediumRiskThreshold:
		assessment.Level = models.RiskMedium
		assessment.Recommendations = append(assessment.Recommendations,
			"Route for additional approval before payment")
	default:
		assessment.Level = models.RiskLow
	}

	return assessment
}

func highAmountRule(cfg Config, inv Invoice, _ []HistoryInvoice, _ time.Time) *hit {
	if !inv.Amount.GreaterThan(cfg.HighAmountThreshold) {
		return nil
	}
	return &hit{
		weight:         0.30,
		flag:           FlagHighAmount,
		reason:         fmt.Sprintf("amount %s exceeds high-value threshold %s", inv.Amount, cfg.HighAmountThreshold),
		recommendation: "Verify the amount against the purchase order",
	}
}

// vendorHistoryRule covers both vendor novelty and amount deviation: an
// unseen vendor flags NEW_VENDOR, a known vendor whose amount deviates more
// than the multiplier from its historical average flags AMOUNT_ANOMALY.
// The two are mutually exclusive by construction.
func vendorHistoryRule(cfg Config, inv Invoice, history []HistoryInvoice, _ time.Time) *hit {
	var sum decimal.Decimal
	var count int64
	for _, h := range history {
		if strings.EqualFold(h.Vendor, inv.Vendor) && h.Vendor != "" {
			sum = sum.Add(h.Amount)
			count++
		}
	}

	if count == 0 {
		return &hit{
			weight:         0.20,
			flag:           FlagNewVendor,
			reason:         "vendor has no prior invoices on this account",
			recommendation: "Confirm the vendor's identity and bank details",
		}
	}

	avg := sum.Div(decimal.NewFromInt(count))
	if avg.IsZero() || inv.Amount.IsZero() {
		return nil
	}
	deviation := inv.Amount.Sub(avg).Abs().Div(avg)
	if deviation.GreaterThan(cfg.DeviationMultiplier) {
		return &hit{
			weight:         0.40,
			flag:           FlagAmountAnomaly,
			reason:         fmt.Sprintf("amount %s deviates %sx from vendor average %s", inv.Amount, deviation.Round(1), avg.Round(2)),
			recommendation: "Compare against previous invoices from this vendor",
		}
	}
	return nil
}

func oldInvoiceRule(cfg Config, inv Invoice, _ []HistoryInvoice, now time.Time) *hit {
	if inv.Date.IsZero() || now.Sub(inv.Date) <= cfg.StaleAge {
		return nil
	}
	return &hit{
		weight:         0.20,
		flag:           FlagOldInvoice,
		reason:         fmt.Sprintf("invoice dated %s is older than %d days", inv.Date.Format("2006-01-02"), int(cfg.StaleAge.Hours()/24)),
		recommendation: "Check whether this invoice was already paid",
	}
}

func lowOCRConfidenceRule(_ Config, inv Invoice, _ []HistoryInvoice, _ time.Time) *hit {
	if inv.OCRConfidence >= 0.70 {
		return nil
	}
	return &hit{
		weight:         0.30,
		flag:           FlagLowOCRConfidence,
		reason:         fmt.Sprintf("OCR confidence %.2f is below 0.70", inv.OCRConfidence),
		recommendation: "Manually verify the extracted fields against the original document",
	}
}

func missingTaxIDRule(_ Config, inv Invoice, _ []HistoryInvoice, _ time.Time) *hit {
	if len(strings.TrimSpace(inv.TaxID)) >= 5 {
		return nil
	}
	return &hit{
		weight: 0.10,
		flag:   FlagMissingTaxID,
		reason: "vendor tax id is missing or too short",
	}
}

func duplicateRule(cfg Config, inv Invoice, history []HistoryInvoice, _ time.Time) *hit {
	if inv.Amount.IsZero() || inv.Vendor == "" || inv.Date.IsZero() {
		return nil
	}
	for _, h := range history {
		if !strings.EqualFold(h.Vendor, inv.Vendor) || !h.Amount.Equal(inv.Amount) || h.Date.IsZero() {
			continue
		}
		gap := inv.Date.Sub(h.Date)
		if gap < 0 {
			gap = -gap
		}
		if gap <= cfg.DuplicateWindow {
			return &hit{
				weight:         0.50,
				flag:           FlagPotentialDuplicate,
				reason:         fmt.Sprintf("identical amount %s from %s within %d days", inv.Amount, inv.Vendor, int(cfg.DuplicateWindow.Hours()/24)),
				recommendation: "Check for a duplicate submission before paying",
			}
		}
	}
	return nil
}
