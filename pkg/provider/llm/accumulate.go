package llm

// ToolCallAccumulator reassembles streamed tool-call fragments. Providers
// send the ID and name on the first fragment of each call and append argument
// text on later fragments sharing the same index.
type ToolCallAccumulator struct {
	calls []*ToolCall
	index map[int]int
}

// Add merges one fragment for the call at index.
func (a *ToolCallAccumulator) Add(index int, id, name, args string) {
	if a.index == nil {
		a.index = make(map[int]int)
	}
	pos, ok := a.index[index]
	if !ok {
		pos = len(a.calls)
		a.index[index] = pos
		a.calls = append(a.calls, &ToolCall{})
	}
	tc := a.calls[pos]
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Len returns the number of distinct calls seen so far.
func (a *ToolCallAccumulator) Len() int { return len(a.calls) }

// Calls returns the assembled calls in the order they were first seen.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(a.calls))
	for i, tc := range a.calls {
		out[i] = *tc
	}
	return out
}
