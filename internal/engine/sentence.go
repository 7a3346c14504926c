package engine

import "strings"

// sentenceSplitter accumulates streamed text and releases it one complete
// sentence at a time so synthesis can start before the reply is finished.
type sentenceSplitter struct {
	buf strings.Builder
}

// Write appends text and returns every sentence completed by it.
func (s *sentenceSplitter) Write(text string) []string {
	if text == "" {
		return nil
	}
	s.buf.WriteString(text)

	var out []string
	for {
		cur := s.buf.String()
		idx := firstSentenceBoundary(cur)
		if idx < 0 {
			return out
		}
		sentence := strings.TrimSpace(cur[:idx+1])
		rest := strings.TrimLeft(cur[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)
		if sentence != "" {
			out = append(out, sentence)
		}
	}
}

// Flush returns the buffered partial sentence, if any, and resets the
// splitter.
func (s *sentenceSplitter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// firstSentenceBoundary returns the index of the first '.', '!', '?' or ':'
// immediately followed by whitespace, or of the first newline. Returns -1 if
// no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			return i
		case '.', '!', '?', ':':
			if i+1 < len(s) {
				switch s[i+1] {
				case ' ', '\n', '\r', '\t':
					return i
				}
			}
		}
	}
	return -1
}
