package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroupWaitAllDone(t *testing.T) {
	g := NewGroup(context.Background(), 4, nil)

	for i := 0; i < 3; i++ {
		g.Go("ok", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
	}

	if unresolved := g.Wait(time.Second); unresolved != 0 {
		t.Errorf("Expected all tasks done, %d unresolved", unresolved)
	}
	if g.Inflight() != 0 {
		t.Errorf("Expected 0 inflight, got %d", g.Inflight())
	}
}

func TestGroupWaitTimeoutReportsUnresolved(t *testing.T) {
	g := NewGroup(context.Background(), 4, nil)

	release := make(chan struct{})
	defer close(release)

	g.Go("stuck-1", func(context.Context) error { <-release; return nil })
	g.Go("stuck-2", func(context.Context) error { <-release; return nil })
	g.Go("fast", func(context.Context) error { return nil })

	start := time.Now()
	unresolved := g.Wait(30 * time.Millisecond)
	if time.Since(start) > time.Second {
		t.Error("Wait must be bounded by its timeout")
	}
	if unresolved != 2 {
		t.Errorf("Expected 2 unresolved tasks, got %d", unresolved)
	}
}

func TestGroupErrorsChannel(t *testing.T) {
	g := NewGroup(context.Background(), 4, nil)
	boom := errors.New("boom")

	g.Go("local-cache", func(context.Context) error { return boom })

	select {
	case te := <-g.Errors():
		if te.Name != "local-cache" || !errors.Is(te, boom) {
			t.Errorf("Unexpected task error: %v", te)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for task error")
	}
}

func TestGroupRecoversPanic(t *testing.T) {
	g := NewGroup(context.Background(), 4, nil)

	g.Go("panicky", func(context.Context) error { panic("bad") })

	select {
	case te := <-g.Errors():
		if te.Name != "panicky" {
			t.Errorf("Unexpected task name %s", te.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for panic report")
	}
	if unresolved := g.Wait(time.Second); unresolved != 0 {
		t.Errorf("Expected no unresolved tasks, got %d", unresolved)
	}
}

func TestGroupFullErrorChannelDoesNotBlock(t *testing.T) {
	g := NewGroup(context.Background(), 1, nil)

	for i := 0; i < 5; i++ {
		g.Go("fail", func(context.Context) error { return errors.New("fail") })
	}

	if unresolved := g.Wait(time.Second); unresolved != 0 {
		t.Errorf("Tasks must finish even when errors are dropped, %d unresolved", unresolved)
	}
}

func TestGroupOnChange(t *testing.T) {
	g := NewGroup(context.Background(), 1, nil)
	peak := make(chan int, 8)
	g.OnChange(func(n int) { peak <- n })

	g.Go("one", func(context.Context) error { return nil })
	g.Wait(time.Second)

	first, last := <-peak, <-peak
	if first != 1 || last != 0 {
		t.Errorf("Expected inflight 1 then 0, got %d then %d", first, last)
	}
}
