package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invoiceai/invoice-pipeline-service/internal/ai"
	"github.com/invoiceai/invoice-pipeline-service/internal/ledger"
	"github.com/invoiceai/invoice-pipeline-service/internal/models"
)

// ValidationError collects every violation found in an upload, not just the
// first one, so a client can fix all of them in a single round trip.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// StageError wraps a failure inside a named stage. The orchestrator halts on
// the first StageError and marks the document failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// failureCode maps a stage failure to the typed code stored on the document.
func failureCode(err error) models.ErrorCode {
	var verr *ValidationError
	switch {
	case errors.Is(err, ledger.ErrInsufficientTokens):
		return models.ErrCodeQuotaExceeded
	case errors.Is(err, ai.ErrNoProvidersAvailable):
		return models.ErrCodeProvidersExhausted
	case errors.As(err, &verr):
		return models.ErrCodeValidation
	default:
		return models.ErrCodeProcessing
	}
}
