package reqid

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("expected %s from context, got %s ok=%v", id, got, ok)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("id is not a uuid: %v", err)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
}

func TestWithIDAndEnsure(t *testing.T) {
	ctx, id := WithID(context.Background(), "abc")
	if id != "abc" {
		t.Fatalf("expected caller id, got %s", id)
	}
	same, id2 := Ensure(ctx)
	if same != ctx || id2 != "abc" {
		t.Fatalf("Ensure replaced existing id: %s", id2)
	}
	_, gen := WithID(context.Background(), "")
	if gen == "" {
		t.Fatalf("empty id should generate one")
	}
	_, fresh := Ensure(context.Background())
	if fresh == "" {
		t.Fatalf("Ensure should generate an id")
	}
}
