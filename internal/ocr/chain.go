package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invoiceai/invoice-pipeline-service/internal/config"
)

// Method names recorded in Result.Method.
const (
	MethodTesseract = "tesseract"
	MethodMultilang = "tesseract-multilang"
	MethodRemote    = "remote"
	MethodMock      = "mock"
)

// MockText is the deterministic placeholder returned when every extraction
// attempt failed. Downstream consumers detect it via Method == MethodMock.
const MockText = "[unreadable document: no text could be extracted]"

// MockConfidence is the fixed confidence assigned to the placeholder result.
const MockConfidence = 0.3

// Engine is a local OCR engine (tesseract in production, fakes in tests).
type Engine interface {
	Extract(ctx context.Context, image []byte, languages string) (string, float64, error)
}

// RemoteEngine is the HTTP OCR fallback.
type RemoteEngine interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Result is the outcome of one chain run. Steps lists every attempt in
// order with its acceptance or rejection reason, so a degraded result is
// fully explainable after the fact.
type Result struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"method"`
	Steps      []string `json:"steps"`
}

// Chain runs the tiered extraction strategy: local tesseract, then a
// multi-language retry ladder, then the remote API, then a deterministic
// placeholder. It never persists anything and never returns a fabricated
// success silently.
type Chain struct {
	engine          Engine
	remote          RemoteEngine
	primaryLanguage string
	retryLanguages  []string
	minTextLength   int
	minConfidence   float64
	retryConfidence float64
	timeout         time.Duration
	log             *logrus.Logger
}

// NewChain wires the chain from config. remote may be nil when no API key
// is configured; that rung is then skipped.
func NewChain(cfg config.OCRConfig, engine Engine, remote RemoteEngine, log *logrus.Logger) *Chain {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Chain{
		engine:          engine,
		remote:          remote,
		primaryLanguage: cfg.Language,
		retryLanguages:  cfg.RetryLanguages,
		minTextLength:   cfg.MinTextLength,
		minConfidence:   cfg.MinConfidence,
		retryConfidence: cfg.RetryConfidence,
		timeout:         timeout,
		log:             log,
	}
}

// runEngine executes one local OCR pass under the configured timeout. A
// hung tesseract process turns into a failed attempt, not a stuck run, and
// the chain falls through to the next rung.
func (c *Chain) runEngine(ctx context.Context, image []byte, languages string) (string, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.engine.Extract(callCtx, image, languages)
}

func (c *Chain) runRemote(ctx context.Context, data []byte, mimeType string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.remote.Extract(callCtx, data, mimeType)
}

// Extract runs the chain over the raw uploaded bytes. PDFs are reduced to
// their first-page raster before the local passes; the remote rung receives
// the original bytes since the API handles PDFs natively.
func (c *Chain) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	var steps []string

	image := data
	localOK := true
	if mimeType == "application/pdf" {
		raster, err := FirstPageImage(data)
		if err != nil {
			steps = append(steps, fmt.Sprintf("pdf: %v", err))
			localOK = false
		} else {
			steps = append(steps, fmt.Sprintf("pdf: first page raster extracted (%d bytes)", len(raster)))
			image = raster
		}
	}

	var primaryText string
	var primaryConf float64
	primaryRan := false

	if localOK {
		prepared, err := Preprocess(image)
		if err != nil {
			steps = append(steps, fmt.Sprintf("preprocess: %v, using original image", err))
			prepared = image
		}

		// Primary pass, strict acceptance threshold.
		text, conf, err := c.runEngine(ctx, prepared, c.primaryLanguage)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			steps = append(steps, fmt.Sprintf("tesseract lang=%s: %v", c.primaryLanguage, err))
		} else {
			primaryText, primaryConf, primaryRan = text, conf, true
			if c.accept(text, conf, c.minConfidence) {
				steps = append(steps, fmt.Sprintf("tesseract lang=%s: accepted (confidence %.2f)", c.primaryLanguage, conf))
				return &Result{Text: text, Confidence: conf, Method: MethodTesseract, Steps: steps}, nil
			}
			steps = append(steps, fmt.Sprintf("tesseract lang=%s: rejected (%s)",
				c.primaryLanguage, c.rejectReason(text, conf, c.minConfidence)))
		}

		// Multi-language retry ladder, relaxed threshold. The primary
		// language's result is re-evaluated rather than re-run.
		for _, languages := range c.retryLanguages {
			var text string
			var conf float64
			if languages == c.primaryLanguage && primaryRan {
				text, conf = primaryText, primaryConf
			} else {
				var err error
				text, conf, err = c.runEngine(ctx, prepared, languages)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if err != nil {
					steps = append(steps, fmt.Sprintf("tesseract lang=%s: %v", languages, err))
					continue
				}
			}
			if c.accept(text, conf, c.retryConfidence) {
				steps = append(steps, fmt.Sprintf("tesseract lang=%s: accepted (confidence %.2f)", languages, conf))
				return &Result{Text: text, Confidence: conf, Method: MethodMultilang, Steps: steps}, nil
			}
			steps = append(steps, fmt.Sprintf("tesseract lang=%s: rejected (%s)",
				languages, c.rejectReason(text, conf, c.retryConfidence)))
		}
	}

	// Remote API rung: any non-empty text is accepted.
	if c.remote != nil {
		text, err := c.runRemote(ctx, data, mimeType)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			steps = append(steps, fmt.Sprintf("remote: %v", err))
		} else if strings.TrimSpace(text) == "" {
			steps = append(steps, "remote: rejected (empty text)")
		} else {
			steps = append(steps, "remote: accepted")
			return &Result{Text: text, Confidence: c.retryConfidence, Method: MethodRemote, Steps: steps}, nil
		}
	} else {
		steps = append(steps, "remote: skipped (no API key configured)")
	}

	steps = append(steps, "mock: all extraction attempts exhausted")
	c.log.WithField("steps", steps).Warn("OCR chain degraded to placeholder")

	return &Result{Text: MockText, Confidence: MockConfidence, Method: MethodMock, Steps: steps}, nil
}

func (c *Chain) accept(text string, conf, threshold float64) bool {
	return len(strings.TrimSpace(text)) >= c.minTextLength && conf >= threshold
}

func (c *Chain) rejectReason(text string, conf, threshold float64) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < c.minTextLength {
		return fmt.Sprintf("text too short: %d < %d chars", len(trimmed), c.minTextLength)
	}
	return fmt.Sprintf("confidence %.2f below %.2f", conf, threshold)
}
