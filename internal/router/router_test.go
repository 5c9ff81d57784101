package router

import (
	"context"
	"testing"

	"github.com/lightfastai/switchboard/internal/protocol"
)

func TestStaticDeciderSequence(t *testing.T) {
	d := &StaticDecider{Decisions: []Decision{
		{Reply: "hello"},
		{Agent: protocol.AgentClaude, Task: "build it"},
	}}
	ctx := context.Background()

	first, err := d.Decide(ctx, "hi")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if first.Reply != "hello" || first.Agent != "" {
		t.Fatalf("unexpected first decision: %+v", first)
	}

	second, err := d.Decide(ctx, "build")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if second.Agent != protocol.AgentClaude {
		t.Fatalf("unexpected second decision: %+v", second)
	}

	// Exhausted sequences repeat the last decision.
	third, err := d.Decide(ctx, "again")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if third.Agent != protocol.AgentClaude {
		t.Fatalf("expected last decision repeated, got %+v", third)
	}
}

func TestStaticDeciderEmpty(t *testing.T) {
	d := &StaticDecider{}
	dec, err := d.Decide(context.Background(), "anything")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if dec.Agent != "" || dec.Reply != "" {
		t.Fatalf("expected zero decision, got %+v", dec)
	}
}
