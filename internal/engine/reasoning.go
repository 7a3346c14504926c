package engine

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// reasoningFilter removes <think>...</think> blocks from streamed model
// output. Reasoning models served through OpenAI-compatible endpoints emit
// them inline; they must never be spoken. Tags may be split across chunks.
type reasoningFilter struct {
	inside  bool
	pending string
}

// Write returns the speakable part of chunk.
func (f *reasoningFilter) Write(chunk string) string {
	s := f.pending + chunk
	f.pending = ""

	var out strings.Builder
	for s != "" {
		tag := thinkOpen
		if f.inside {
			tag = thinkClose
		}
		if i := strings.Index(s, tag); i >= 0 {
			if !f.inside {
				out.WriteString(s[:i])
			}
			s = s[i+len(tag):]
			f.inside = !f.inside
			continue
		}
		// Hold back a suffix that could be the start of a split tag.
		keep := partialSuffix(s, tag)
		if !f.inside {
			out.WriteString(s[:len(s)-keep])
		}
		f.pending = s[len(s)-keep:]
		break
	}
	return out.String()
}

// Flush returns any held-back text once the stream has ended. An unclosed
// reasoning block is dropped.
func (f *reasoningFilter) Flush() string {
	rest := f.pending
	f.pending = ""
	if f.inside {
		return ""
	}
	return rest
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
