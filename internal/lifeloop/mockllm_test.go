package lifeloop

import (
	"context"
	"errors"

	"github.com/sealteam/sealteam/internal/llm"
)

// failingLLM fails every Infer call, simulating a provider outage that
// has already exhausted the retry wrapper.
type failingLLM struct {
	calls int
}

func (f *failingLLM) Infer(_ context.Context, _ llm.Request) (llm.Response, error) {
	f.calls++
	return llm.Response{}, errors.New("provider unavailable")
}

// scriptedLLM replays a fixed sequence of responses, one per Infer
// call, recording every request it was given.
type scriptedLLM struct {
	responses []llm.Response
	calls     []llm.Request
}

func (m *scriptedLLM) Infer(_ context.Context, req llm.Request) (llm.Response, error) {
	m.calls = append(m.calls, req)
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		return llm.Response{Text: "{}", StopReason: llm.StopEndTurn}, nil
	}
	return m.responses[i], nil
}
