package repository

import (
	"context"
	"testing"
)

func TestAfterCommit_NoActiveUnitOfWork(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatal("expected hook to run immediately without an active unit of work")
	}
}

func TestAfterCommit_DeferredUntilFlush(t *testing.T) {
	ctx, flush := NewHookContext(context.Background())

	var order []int
	AfterCommit(ctx, func() { order = append(order, 1) })
	AfterCommit(ctx, func() { order = append(order, 2) })

	if len(order) != 0 {
		t.Fatalf("hooks ran before flush: %v", order)
	}

	flush()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected hooks in registration order, got %v", order)
	}

	// A second flush must not re-run the hooks.
	flush()
	if len(order) != 2 {
		t.Fatalf("hooks ran twice: %v", order)
	}
}

func TestAfterCommit_DiscardedWithoutFlush(t *testing.T) {
	ctx, _ := NewHookContext(context.Background())

	ran := false
	AfterCommit(ctx, func() { ran = true })
	if ran {
		t.Fatal("hook must not run when the unit of work never commits")
	}
}
