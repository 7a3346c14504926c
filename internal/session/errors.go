package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/engine"
	"github.com/MrWong99/parley/internal/resilience"
)

// ProviderError reports a failure of one of the session's provider
// adapters, either while constructing it or while it was serving a call.
type ProviderError struct {
	// Modality is the slot that failed.
	Modality config.Modality

	// Kind is the configured provider kind (e.g. "deepgram").
	Kind string

	// Op is the operation that failed (e.g. "start stream").
	Op string

	Err error
}

func (e *ProviderError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s provider %s: %v", e.Modality, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s provider %s: %s: %v", e.Modality, e.Kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Fatal reports whether the failure ends the session: the provider's
// circuit breaker is open, so further calls would fail immediately.
func (e *ProviderError) Fatal() bool {
	return errors.Is(e.Err, resilience.ErrCircuitOpen)
}

// fromStage converts an engine failure into a ProviderError.
func (k Kinds) fromStage(err error, op string) *ProviderError {
	var se *engine.StageError
	if errors.As(err, &se) {
		return &ProviderError{Modality: se.Stage, Kind: k.Of(se.Stage), Op: op, Err: se.Err}
	}
	return &ProviderError{Modality: config.ModalityLLM, Kind: k.LLM, Op: op, Err: err}
}
