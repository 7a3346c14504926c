package config

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMissing is wrapped by every required-field error returned from
// [ProviderConfig.Check].
var ErrMissing = errors.New("required value missing")

// FieldError reports a problem with a single provider field.
type FieldError struct {
	Modality Modality
	Field    string
	Err      error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("providers.%s.%s: %v", e.Modality, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Check verifies that p names a valid kind and carries every value its kind
// requires. It returns one [*FieldError] per problem, joined.
func (p ProviderConfig[K]) Check() error {
	modality := p.Kind.Modality()
	if p.Kind == "" {
		return &FieldError{Modality: modality, Field: "kind", Err: ErrMissing}
	}
	if !p.Kind.IsValid() {
		return &FieldError{Modality: modality, Field: "kind", Err: fmt.Errorf("unknown kind %q", string(p.Kind))}
	}

	req := p.Kind.Requirements()
	var errs []error
	if req.Model && p.Model == "" {
		errs = append(errs, &FieldError{Modality: modality, Field: "model", Err: ErrMissing})
	}
	if req.BaseURL && p.BaseURL == "" {
		errs = append(errs, &FieldError{Modality: modality, Field: "base_url", Err: ErrMissing})
	}
	if req.APIKey && p.APIKey == "" {
		errs = append(errs, &FieldError{Modality: modality, Field: "api_key", Err: ErrMissing})
	}
	for _, key := range req.Options {
		v, ok := p.Options[key]
		if !ok || v == nil || v == "" {
			errs = append(errs, &FieldError{Modality: modality, Field: "options." + key, Err: ErrMissing})
		}
	}
	return errors.Join(errs...)
}

// String returns the string option key, or "" when it is absent or not a
// string.
func (p ProviderConfig[K]) String(key string) string {
	s, _ := p.Options[key].(string)
	return s
}

// Float returns the numeric option key. YAML integers and numeric strings
// are accepted.
func (p ProviderConfig[K]) Float(key string) (float64, bool) {
	switch v := p.Options[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns the integer option key. Floats without a fractional part are
// accepted.
func (p ProviderConfig[K]) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Bool returns the boolean option key.
func (p ProviderConfig[K]) Bool(key string) (bool, bool) {
	switch v := p.Options[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// Strings returns the string-list option key. Non-string elements are
// skipped.
func (p ProviderConfig[K]) Strings(key string) []string {
	switch v := p.Options[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Clone returns a deep-enough copy of p: the options map is copied so the
// clone can be handed to another goroutine.
func (p ProviderConfig[K]) Clone() ProviderConfig[K] {
	c := p
	if p.Options != nil {
		c.Options = make(map[string]any, len(p.Options))
		for k, v := range p.Options {
			c.Options[k] = v
		}
	}
	return c
}
