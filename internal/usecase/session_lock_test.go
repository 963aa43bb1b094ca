package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pagelens/internal/domain"
)

func TestSessionLockerBasic(t *testing.T) {
	sl := NewSessionLocker(time.Second)

	unlock, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if sl.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", sl.ActiveCount())
	}
	if !sl.Busy("session-1") {
		t.Error("Busy = false while lock held, want true")
	}

	unlock()

	// After unlock, the session should be cleaned up.
	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount after unlock = %d, want 0", sl.ActiveCount())
	}
	if sl.Busy("session-1") {
		t.Error("Busy = true after unlock, want false")
	}
}

func TestSessionLockerConcurrentSameSession(t *testing.T) {
	sl := NewSessionLocker(2 * time.Second)

	// Goroutine A holds the lock.
	unlock1, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock1: %v", err)
	}

	order := make(chan int, 2)

	// Goroutine B tries to lock the same session. It should block until A
	// releases, well inside the busy-wait bound.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock2, err := sl.Lock(context.Background(), "session-1")
		if err != nil {
			t.Errorf("Lock2: %v", err)
			return
		}
		order <- 2
		unlock2()
	}()

	// Give goroutine B time to block.
	time.Sleep(50 * time.Millisecond)

	// A releases; B should now acquire.
	order <- 1
	unlock1()

	wg.Wait()
	close(order)

	// Verify ordering: 1 must come before 2.
	vals := make([]int, 0, 2)
	for v := range order {
		vals = append(vals, v)
	}
	if len(vals) != 2 || vals[0] != 1 || vals[1] != 2 {
		t.Errorf("order = %v, want [1, 2]", vals)
	}
}

func TestSessionLockerDifferentSessions(t *testing.T) {
	sl := NewSessionLocker(time.Second)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	for _, id := range []string{"session-a", "session-b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock, err := sl.Lock(context.Background(), key)
			if err != nil {
				errCh <- err
				return
			}
			// Hold briefly to simulate work.
			time.Sleep(20 * time.Millisecond)
			unlock()
		}(id)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSessionLockerBusyAfterBound(t *testing.T) {
	sl := NewSessionLocker(60 * time.Millisecond)

	unlock1, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock1: %v", err)
	}

	start := time.Now()
	_, err = sl.Lock(context.Background(), "session-1")
	if err == nil {
		t.Fatal("expected busy error, got nil")
	}
	if !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("error = %v, want ErrSessionBusy", err)
	}
	if !domain.IsRetryableError(err) {
		t.Error("busy error should be retryable")
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeSessionBusy {
		t.Errorf("code = %s, want %s", code, domain.CodeSessionBusy)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("gave up after %v, want at least the busy-wait bound", elapsed)
	}

	// Wait a bit for the abandoned-acquire cleanup goroutine to finish.
	unlock1()
	time.Sleep(50 * time.Millisecond)
	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0 after cleanup", sl.ActiveCount())
	}
}

func TestSessionLockerZeroBoundFailsFast(t *testing.T) {
	sl := NewSessionLocker(0)

	unlock1, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock1: %v", err)
	}
	defer unlock1()

	start := time.Now()
	_, err = sl.Lock(context.Background(), "session-1")
	if !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("error = %v, want ErrSessionBusy", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("zero bound took %v, want immediate failure", elapsed)
	}
}

func TestSessionLockerContextCancelWhileWaiting(t *testing.T) {
	sl := NewSessionLocker(5 * time.Second)

	unlock1, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock1: %v", err)
	}
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = sl.Lock(ctx, "session-1")
	if err == nil {
		t.Fatal("expected context error, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
	if errors.Is(err, domain.ErrSessionBusy) {
		t.Error("caller cancellation should not report as busy")
	}

	// Wait a bit for the cleanup goroutine to finish.
	time.Sleep(100 * time.Millisecond)
}

func TestSessionLockerBusyIgnoresWaiters(t *testing.T) {
	sl := NewSessionLocker(time.Second)

	if sl.Busy("session-1") {
		t.Error("Busy on unknown session = true, want false")
	}

	unlock, err := sl.Lock(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !sl.Busy("session-1") {
		t.Error("Busy = false while held, want true")
	}
	unlock()
}

func TestSessionLockerCleanup(t *testing.T) {
	sl := NewSessionLocker(time.Second)

	// Lock and unlock several sessions.
	for _, id := range []string{"s1", "s2", "s3"} {
		unlock, err := sl.Lock(context.Background(), id)
		if err != nil {
			t.Fatalf("Lock(%s): %v", id, err)
		}
		unlock()
	}

	if sl.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0 (all cleaned up)", sl.ActiveCount())
	}
}
