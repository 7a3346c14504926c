// Package agent defines the assistant's identity: its persona instructions
// and the closed set of capabilities it may invoke during a conversation.
//
// A [Descriptor] is immutable once built. The session runtime reads the
// instructions verbatim as the system prompt and offers the capability
// schemas to the language model only when the set is non-empty.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/agent/tools"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ErrUnknownCapability is returned for a capability name outside the
// compiled-in set, or for a tool call the descriptor does not grant.
var ErrUnknownCapability = errors.New("agent: unknown capability")

// CapabilityKind enumerates the built-in capabilities.
type CapabilityKind string

const (
	// CapabilityCurrentTime tells the current date and time.
	CapabilityCurrentTime CapabilityKind = tools.CurrentTimeName

	// CapabilityCalculate performs simple arithmetic.
	CapabilityCalculate CapabilityKind = tools.CalculateName
)

// CapabilityKinds returns every built-in capability kind.
func CapabilityKinds() []CapabilityKind {
	return []CapabilityKind{CapabilityCurrentTime, CapabilityCalculate}
}

// IsValid reports whether k is a built-in capability.
func (k CapabilityKind) IsValid() bool {
	switch k {
	case CapabilityCurrentTime, CapabilityCalculate:
		return true
	}
	return false
}

// ParseCapabilities converts configured capability names into kinds. All
// unknown names are reported together.
func ParseCapabilities(names []string) ([]CapabilityKind, error) {
	kinds := make([]CapabilityKind, 0, len(names))
	var errs []error
	for _, n := range names {
		k := CapabilityKind(strings.TrimSpace(n))
		if !k.IsValid() {
			errs = append(errs, fmt.Errorf("%w %q", ErrUnknownCapability, n))
			continue
		}
		kinds = append(kinds, k)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return kinds, nil
}

// Capability is a granted tool.
type Capability struct {
	Kind CapabilityKind
	tool tools.Tool
}

// Definition returns the LLM-facing schema of the capability.
func (c Capability) Definition() llm.ToolDefinition { return c.tool.Definition }

// Option configures [New].
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used by the current_time capability.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Descriptor is the immutable identity of an assistant. The zero value has
// no instructions and no capabilities.
type Descriptor struct {
	instructions string
	capabilities []Capability
}

// New builds a Descriptor. instructions are kept verbatim. Each kind may
// appear at most once; duplicates are collapsed.
func New(instructions string, kinds []CapabilityKind, opts ...Option) (Descriptor, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := Descriptor{instructions: instructions}
	seen := make(map[CapabilityKind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true

		var tool tools.Tool
		switch k {
		case CapabilityCurrentTime:
			tool = tools.CurrentTime(o.now)
		case CapabilityCalculate:
			tool = tools.Calculate()
		default:
			return Descriptor{}, fmt.Errorf("%w %q", ErrUnknownCapability, k)
		}
		d.capabilities = append(d.capabilities, Capability{Kind: k, tool: tool})
	}
	return d, nil
}

// Instructions returns the persona text.
func (d Descriptor) Instructions() string { return d.instructions }

// Capabilities returns a copy of the granted capabilities.
func (d Descriptor) Capabilities() []Capability { return slices.Clone(d.capabilities) }

// HasCapabilities reports whether any capability is granted.
func (d Descriptor) HasCapabilities() bool { return len(d.capabilities) > 0 }

// Tools returns the tool schemas to offer the language model, or nil when
// no capability is granted.
func (d Descriptor) Tools() []llm.ToolDefinition {
	if len(d.capabilities) == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, len(d.capabilities))
	for i, c := range d.capabilities {
		defs[i] = c.tool.Definition
	}
	return defs
}

// Execute runs the capability named name with JSON args. Calls to tools the
// descriptor does not grant return [ErrUnknownCapability] without running
// anything.
func (d Descriptor) Execute(ctx context.Context, name, args string) (string, error) {
	for _, c := range d.capabilities {
		if c.tool.Definition.Name == name {
			return c.tool.Handler(ctx, args)
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCapability, name)
}
