package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestMemoryBus_DeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(8, zerolog.Nop())
	defer b.Close()

	got := make(chan Event, 1)
	go func() {
		_ = b.Subscribe(ctx, func(_ context.Context, ev Event) error {
			got <- ev
			return nil
		})
	}()

	want := Event{EntityID: uuid.New(), SourceTable: "observations", OccurredAt: time.Now().UTC()}
	if err := b.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-got:
		if ev.EntityID != want.EntityID || ev.SourceTable != want.SourceTable {
			t.Errorf("got %+v, want %+v", ev, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestMemoryBus_RequeuesOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(8, zerolog.Nop())
	defer b.Close()

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = b.Subscribe(ctx, func(_ context.Context, ev Event) error {
			if attempts.Add(1) == 1 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		})
	}()

	if err := b.Publish(ctx, Event{EntityID: uuid.New()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not re-delivered after handler failure")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	b := NewMemoryBus(1, zerolog.Nop())
	b.Close()
	// Fill detection: publish must fail once the bus is closed, even with
	// buffer space available.
	if err := b.Publish(context.Background(), Event{EntityID: uuid.New()}); err == nil {
		t.Error("expected error publishing to a closed bus")
	}
}

func TestMemoryBus_SubscribeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewMemoryBus(1, zerolog.Nop())
	defer b.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Subscribe(ctx, func(context.Context, Event) error { return nil })
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("subscribe returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
