package ai

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// UsageRecorder is the append-only provider usage log. The router both
// writes attempt records and reads today's consumption from it.
type UsageRecorder interface {
	InsertProviderUsage(ctx context.Context, u *models.ProviderUsage) error
	ProviderUnitsSince(ctx context.Context, provider string, since time.Time) (int64, error)
}

// RoutedProvider is a provider slot with its routing metadata. Lower
// priority numbers route first. A zero DailyQuota means unlimited.
type RoutedProvider struct {
	Provider
	Priority   int
	DailyQuota int64
	UnitCost   decimal.Decimal
	Enabled    bool
}

// Request describes one generation to route.
type Request struct {
	Prompt    string
	Operation string
	Preferred string
	AccountID uuid.UUID
}

// RouteResult is a successful routed generation.
type RouteResult struct {
	Provider string
	Text     string
	Units    int64
}

// Router selects among configured providers by preference, priority and
// remaining daily quota, trying each at most once per request. Daily
// consumption is recomputed from the usage log on every decision; there is
// no cached counter to drift.
type Router struct {
	providers []RoutedProvider
	usage     UsageRecorder
	timeout   time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

// NewRouter creates a router over the given provider slots.
func NewRouter(providers []RoutedProvider, usage UsageRecorder, timeout time.Duration, log *logrus.Logger) *Router {
	sorted := make([]RoutedProvider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Router{
		providers: sorted,
		usage:     usage,
		timeout:   timeout,
		log:       log,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// localMidnight returns the start of today in local time; daily provider
// quotas are counted from it.
func (r *Router) localMidnight() time.Time {
	now := r.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// eligible reports whether a provider can serve a request right now.
func (r *Router) eligible(ctx context.Context, p RoutedProvider, attempted map[string]bool) bool {
	if !p.Enabled || attempted[p.Name()] {
		return false
	}
	if p.DailyQuota <= 0 {
		return true
	}
	usedToday, err := r.usage.ProviderUnitsSince(ctx, p.Name(), r.localMidnight())
	if err != nil {
		r.log.WithError(err).WithField("provider", p.Name()).Warn("failed to read provider usage, skipping provider")
		return false
	}
	return usedToday < p.DailyQuota
}

// pick selects the next provider: the preferred one when eligible, else the
// lowest priority number among the eligible.
func (r *Router) pick(ctx context.Context, preferred string, attempted map[string]bool) (RoutedProvider, bool) {
	if preferred != "" {
		for _, p := range r.providers {
			if p.Name() == preferred && r.eligible(ctx, p, attempted) {
				return p, true
			}
		}
	}
	for _, p := range r.providers {
		if r.eligible(ctx, p, attempted) {
			return p, true
		}
	}
	return RoutedProvider{}, false
}

// Route executes the request against providers in eligibility order until
// one succeeds. Every attempt, failed or not, lands in the usage log. When
// no provider was ever eligible it returns ErrNoProvidersAvailable; when
// all eligible providers failed it returns the last failure.
func (r *Router) Route(ctx context.Context, req Request) (*RouteResult, error) {
	attempted := make(map[string]bool)
	var lastErr error

	for {
		provider, ok := r.pick(ctx, req.Preferred, attempted)
		if !ok {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ErrNoProvidersAvailable
		}
		attempted[provider.Name()] = true

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		start := r.now()
		resp, err := provider.Generate(callCtx, req.Prompt)
		cancel()
		latency := r.now().Sub(start).Milliseconds()

		record := &models.ProviderUsage{
			ID:        uuid.New(),
			AccountID: req.AccountID,
			Provider:  provider.Name(),
			Operation: req.Operation,
			LatencyMS: latency,
			Success:   err == nil,
		}
		if err != nil {
			record.ErrorMessage = err.Error()
		} else {
			record.Units = resp.Units
			record.Cost = provider.UnitCost.Mul(decimal.NewFromInt(resp.Units))
		}
		if insertErr := r.usage.InsertProviderUsage(ctx, record); insertErr != nil {
			r.log.WithError(insertErr).WithField("provider", provider.Name()).Error("failed to record provider usage")
		}

		if err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"provider":  provider.Name(),
				"operation": req.Operation,
			}).Warn("provider attempt failed, trying next")
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		return &RouteResult{Provider: provider.Name(), Text: resp.Text, Units: resp.Units}, nil
	}
}

// BuildProviders constructs the router slots from provider config entries.
// A provider without credentials is carried but disabled, so routing logs
// can show it was considered.
type ProviderSpec struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	Priority   int
	DailyQuota int64
	UnitCost   float64
}

func BuildProviders(specs []ProviderSpec) []RoutedProvider {
	var providers []RoutedProvider
	for _, spec := range specs {
		var p Provider
		enabled := true
		switch spec.Name {
		case "openai":
			p = NewOpenAIProvider(spec.APIKey, spec.BaseURL, spec.Model)
			enabled = spec.APIKey != ""
		case "gemini":
			p = NewGeminiProvider(spec.APIKey, spec.Model)
			enabled = spec.APIKey != ""
		case "ollama":
			p = NewOllamaProvider(spec.BaseURL, spec.Model)
		default:
			continue
		}
		providers = append(providers, RoutedProvider{
			Provider:   p,
			Priority:   spec.Priority,
			DailyQuota: spec.DailyQuota,
			UnitCost:   decimal.NewFromFloat(spec.UnitCost),
			Enabled:    enabled,
		})
	}
	return providers
}
