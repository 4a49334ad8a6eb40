package bus

import (
	"context"
	"testing"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

func TestSendReceiveDirect(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryCapability())

	if err := b.Send(ctx, models.QueueMessage{From: "bob", To: "alice", Type: models.MsgTask, Content: "go"}, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	msg, ok, err := b.Receive(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.From != "bob" || msg.Content != "go" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestReceiveTimeout(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryCapability())

	start := time.Now()
	_, ok, err := b.Receive(ctx, "nobody", 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if ok {
		t.Fatal("expected no message")
	}
	if time.Since(start) < time.Second {
		t.Fatal("expected to block for the timeout")
	}
}

func TestReceiveNonBlockingEmpty(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryCapability())
	_, ok, err := b.ReceiveNonBlocking(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no message")
	}
}

func TestFIFOWithinQueue(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryCapability())

	for _, c := range []string{"first", "second", "third"} {
		if err := b.Send(ctx, models.QueueMessage{From: "bob", To: "alice", Content: c}, ""); err != nil {
			t.Fatalf("send %s: %v", c, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		msg, ok, err := b.ReceiveNonBlocking(ctx, "alice")
		if err != nil || !ok {
			t.Fatalf("receive: ok=%v err=%v", ok, err)
		}
		if msg.Content != want {
			t.Fatalf("expected %s, got %s", want, msg.Content)
		}
	}
}

func TestSendSharedFanOut(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	session := models.SessionState{
		Agents: []models.AgentSessionEntry{
			{Config: models.AgentConfig{Name: "bob"}, Status: models.AgentRunning},
			{Config: models.AgentConfig{Name: "alice"}, Status: models.AgentRunning},
			{Config: models.AgentConfig{Name: "carl"}, Status: models.AgentCompleted},
		},
	}
	if err := store.WriteSessionState(workspace, session); err != nil {
		t.Fatalf("write session state: %v", err)
	}

	b := New(NewMemoryCapability())
	if err := b.Send(ctx, models.QueueMessage{From: "bob", To: models.SharedAddress, Content: "status update"}, workspace); err != nil {
		t.Fatalf("send shared: %v", err)
	}

	if _, ok, _ := b.ReceiveNonBlocking(ctx, "bob"); ok {
		t.Fatal("sender should not receive its own shared message")
	}
	if _, ok, _ := b.ReceiveNonBlocking(ctx, "alice"); !ok {
		t.Fatal("running agent should receive shared message")
	}
	if _, ok, _ := b.ReceiveNonBlocking(ctx, "carl"); ok {
		t.Fatal("completed agent should not receive shared message")
	}
}

func TestSendSharedWithoutWorkspace(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryCapability())
	err := b.Send(ctx, models.QueueMessage{From: "bob", To: models.SharedAddress, Content: "x"}, "")
	if err == nil {
		t.Fatal("expected configuration error")
	}
	var cfgErr *ConfigurationError
	if !isConfigurationError(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
}

func isConfigurationError(err error, target **ConfigurationError) bool {
	ce, ok := err.(*ConfigurationError)
	if ok {
		*target = ce
	}
	return ok
}

func TestFlushAll(t *testing.T) {
	ctx := context.Background()
	b := New(NewMemoryCapability())

	for _, name := range []string{"bob", "alice"} {
		if err := b.Send(ctx, models.QueueMessage{From: "x", To: name, Content: "y"}, ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	n, err := b.FlushAll(ctx)
	if err != nil {
		t.Fatalf("flush all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys flushed, got %d", n)
	}

	if _, ok, _ := b.ReceiveNonBlocking(ctx, "bob"); ok {
		t.Fatal("expected queue to be empty after flush")
	}
}
