package errgroup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NetPo4ki/go-ki/ki"
)

func TestWithContextHappy(t *testing.T) {
	t.Parallel()
	g, gctx := WithContext(context.Background())
	_ = gctx
	g.Go(func() error { return nil })
	g.Go(func() error { time.Sleep(10 * time.Millisecond); return nil })
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithContextErrorCancels(t *testing.T) {
	t.Parallel()
	g, gctx := WithContext(context.Background())
	done := make(chan struct{})
	g.Go(func() error { return errors.New("boom") })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			close(done)
			return nil
		case <-time.After(250 * time.Millisecond):
			t.Error("expected cancel propagation")
			return nil
		}
	})
	if err := g.Wait(); err == nil {
		t.Fatal("expected error")
	}
	select {
	case <-done:
	case <-time.After(150 * time.Millisecond):
		t.Fatal("ctx was not canceled")
	}
}

func TestWaitReturnsOriginalError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	g, _ := WithContext(context.Background())
	g.Go(func() error { return boom })
	if err := g.Wait(); !errors.Is(err, boom) {
		t.Fatalf("expected unwrapped child error, got %v", err)
	}
}

func TestWithContextParentDeadline(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	g, gctx := WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	err := g.Wait()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWithContextParentCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	cancel()
	err := g.Wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGoAfterWaitPanics(t *testing.T) {
	t.Parallel()
	g, _ := WithContext(context.Background())
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		e, ok := recover().(error)
		if !ok || !errors.Is(e, ki.ErrScopeClosed) {
			t.Fatalf("expected ErrScopeClosed panic, got %v", e)
		}
	}()
	g.Go(func() error { return nil })
	t.Fatal("expected panic")
}
