package entrypoint

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/session"
)

// ConfigurationError reports a missing or invalid value detected before a
// job connects. Modality is empty for settings outside the provider blocks
// (e.g. agent capabilities).
type ConfigurationError struct {
	Modality config.Modality
	Field    string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Modality == "" {
		return fmt.Sprintf("configuration: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("configuration: providers.%s.%s: %v", e.Modality, e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError reports that the job's room could not be joined. It is
// never retried here.
type ConnectionError struct {
	Room string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect room %q: %v", e.Room, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProviderError reports a provider adapter that could not be constructed or
// failed while serving the call.
type ProviderError = session.ProviderError

// configurationErrors rewrites every *config.FieldError joined in err as a
// *ConfigurationError, keeping the join.
func configurationErrors(err error) error {
	if err == nil {
		return nil
	}
	var out []error
	for _, e := range flatten(err) {
		var fe *config.FieldError
		if errors.As(e, &fe) {
			out = append(out, &ConfigurationError{Modality: fe.Modality, Field: fe.Field, Err: fe.Err})
			continue
		}
		out = append(out, &ConfigurationError{Field: "providers", Err: e})
	}
	return errors.Join(out...)
}

func flatten(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, flatten(e)...)
	}
	return out
}
