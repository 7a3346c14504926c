// Package mock provides a scripted llm.Provider for tests.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi!"}, {FinishReason: "stop"}}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider replays canned completions and records every request. Set the
// exported fields before use; read recordings through the methods.
type Provider struct {
	// StreamScript supplies one reply per StreamCompletion call, in order.
	// Once it is exhausted every call replays StreamChunks.
	StreamScript [][]llm.Chunk
	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail before opening a stream.
	StreamErr error

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount is returned by CountTokens. Zero uses llm.EstimateTokens.
	TokenCount int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// StreamCompletion records req and streams the next scripted reply. The
// stream stops early when ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, cloneRequest(req))
	if p.StreamErr != nil {
		p.mu.Unlock()
		return nil, p.StreamErr
	}
	reply := p.StreamChunks
	if len(p.StreamScript) > 0 {
		reply, p.StreamScript = p.StreamScript[0], p.StreamScript[1:]
	}
	reply = slices.Clone(reply)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(reply))
	go func() {
		defer close(ch)
		for _, c := range reply {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete returns CompleteResponse and CompleteErr.
func (p *Provider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount, or an estimate when it is zero.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.ModelCapabilities }

// StreamCallCount returns how many times StreamCompletion was called.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// StreamRequests returns the requests passed to StreamCompletion, oldest
// first.
func (p *Provider) StreamRequests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

// cloneRequest copies the slices of req the caller may keep appending to.
func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	req.Messages = slices.Clone(req.Messages)
	req.Tools = slices.Clone(req.Tools)
	return req
}
