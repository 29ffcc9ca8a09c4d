package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNoProvidersAvailable is returned by the router when no provider was
// eligible for a request at all (disabled, over quota, or already tried).
var ErrNoProvidersAvailable = errors.New("no AI providers available")

// Provider is a single AI backend capable of text generation.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// Response is a provider completion plus the unit count it consumed
// (token usage where the backend reports it).
type Response struct {
	Text  string
	Units int64
}

// ProviderError wraps a provider failure with its HTTP-like status so the
// router can log the failure category while falling through.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed (%s): %v", e.Provider, e.Category(), e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Category buckets the failure for logging and retry decisions.
func (e *ProviderError) Category() string {
	switch {
	case e.Status == http.StatusTooManyRequests:
		return "rate_limited"
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return "auth"
	case e.Status == http.StatusNotFound:
		return "not_found"
	case e.Status >= 500:
		return "upstream"
	case e.Status >= 400:
		return "request"
	default:
		return "transport"
	}
}
