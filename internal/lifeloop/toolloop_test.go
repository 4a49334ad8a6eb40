package lifeloop

import (
	"strings"
	"testing"

	"github.com/sealteam/sealteam/internal/llm"
)

func TestCompactToolMessagesNoopBelowWindow(t *testing.T) {
	messages := []llm.Message{
		{Role: "user", Content: "initial"},
		{Role: "assistant", Content: "a1"}, {Role: "user", Content: "r1"},
	}
	got := compactToolMessages(messages, 1)
	if len(got) != len(messages) {
		t.Fatalf("expected no compaction below the window, got %d messages", len(got))
	}
}

func TestCompactToolMessagesSummarizesEarliestPairs(t *testing.T) {
	initialContextSize := 1
	messages := []llm.Message{{Role: "user", Content: "initial"}}
	for i := 0; i < 6; i++ { // 6 pairs, window is 4
		messages = append(messages,
			llm.Message{Role: "assistant", Content: "a"},
			llm.Message{Role: "user", Content: "r"},
		)
	}

	got := compactToolMessages(messages, initialContextSize)

	// initial context (1) + compacted ack pair (2) + most recent 4 pairs (8) = 11
	if len(got) != 11 {
		t.Fatalf("expected 11 messages after compaction, got %d", len(got))
	}
	if !strings.Contains(got[1].Content, "Compacted 2 tool turns") {
		t.Fatalf("expected compaction marker, got %q", got[1].Content)
	}
	if got[0].Content != "initial" {
		t.Fatalf("expected initial context message preserved, got %q", got[0].Content)
	}
}

func TestCompactToolMessagesNeverTouchesInitialContext(t *testing.T) {
	messages := []llm.Message{
		{Role: "system-ish user turn", Content: "keep me"},
		{Role: "user", Content: "also keep"},
	}
	for i := 0; i < 10; i++ {
		messages = append(messages,
			llm.Message{Role: "assistant", Content: "a"},
			llm.Message{Role: "user", Content: "r"},
		)
	}
	got := compactToolMessages(messages, 2)
	if got[0].Content != "keep me" || got[1].Content != "also keep" {
		t.Fatalf("expected initial context untouched, got %+v", got[:2])
	}
}
