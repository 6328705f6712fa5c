package pipeline

import (
	"errors"
	"reflect"
	"testing"
)

func passthrough() Handler {
	return HandlerFunc(func(b []byte) ([]byte, error) { return b, nil })
}

func TestChainInsertRelativeToAnchors(t *testing.T) {
	c := NewChain()
	if err := c.AddLast("frame-decoder", passthrough()); err != nil {
		t.Fatalf("add decoder: %v", err)
	}
	if err := c.AddLast("frame-encoder", passthrough()); err != nil {
		t.Fatalf("add encoder: %v", err)
	}
	if err := c.AddBefore("frame-decoder", "in", passthrough()); err != nil {
		t.Fatalf("add before: %v", err)
	}
	if err := c.AddAfter("frame-encoder", "out", passthrough()); err != nil {
		t.Fatalf("add after: %v", err)
	}

	want := []string{"in", "frame-decoder", "frame-encoder", "out"}
	if got := c.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("names = %v, want %v", got, want)
	}

	if err := c.AddBefore("missing", "x", passthrough()); !errors.Is(err, ErrAnchorNotFound) {
		t.Fatalf("expected missing anchor error, got %v", err)
	}
	if err := c.AddBefore("frame-decoder", "in", passthrough()); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	if err := c.Remove("in"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if c.Has("in") {
		t.Fatal("stage still present after remove")
	}
	if err := c.Remove("in"); !errors.Is(err, ErrStageNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestChainProcessStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	c := NewChain()
	_ = c.AddLast("a", HandlerFunc(func(b []byte) ([]byte, error) { return append(b, 'a'), nil }))
	_ = c.AddLast("b", HandlerFunc(func([]byte) ([]byte, error) { return nil, boom }))
	_ = c.AddLast("c", HandlerFunc(func(b []byte) ([]byte, error) {
		t.Fatal("stage after failure must not run")
		return b, nil
	}))

	if _, err := c.Process([]byte("x")); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
