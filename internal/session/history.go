package session

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// History is the linear chat history of a session.
//
// When a token budget is set, the oldest turns are dropped once the
// estimated size exceeds it. Trimming always removes whole turns: the
// history never starts with an assistant or tool message, so tool results
// are never separated from the call that requested them.
//
// All methods are safe for concurrent use.
type History struct {
	maxTokens int

	mu       sync.Mutex
	messages []llm.Message
	tokens   []int
	total    int
}

// NewHistory returns an empty history bounded to maxTokens estimated
// tokens. Zero or negative means unbounded.
func NewHistory(maxTokens int) *History {
	return &History{maxTokens: maxTokens}
}

// Add appends msgs and trims the oldest turns if over budget.
func (h *History) Add(msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range msgs {
		n := llm.EstimateTokens([]llm.Message{m})
		h.messages = append(h.messages, m)
		h.tokens = append(h.tokens, n)
		h.total += n
	}
	h.trimLocked()
}

// Messages returns a copy of the history, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.Message(nil), h.messages...)
}

// Len returns the number of messages held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// TokenEstimate returns the estimated token count of the history.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.tokens = nil
	h.total = 0
}

// trimLocked must be called with h.mu held.
func (h *History) trimLocked() {
	if h.maxTokens <= 0 {
		return
	}
	for h.total > h.maxTokens {
		// The start of the second turn is the first user message after
		// index 0. If there is none, the latest turn alone is over budget
		// and is kept.
		cut := -1
		for i := 1; i < len(h.messages); i++ {
			if h.messages[i].Role == llm.RoleUser {
				cut = i
				break
			}
		}
		if cut < 0 {
			return
		}
		h.dropLocked(cut)
	}
}

func (h *History) dropLocked(n int) {
	for _, t := range h.tokens[:n] {
		h.total -= t
	}
	h.messages = append([]llm.Message(nil), h.messages[n:]...)
	h.tokens = append([]int(nil), h.tokens[n:]...)
}
