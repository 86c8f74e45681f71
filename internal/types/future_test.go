package types

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFuture_Get(t *testing.T) {
	t.Run("successful result", func(t *testing.T) {
		future := NewFuture[string]()

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = future.SetResult("success")
		}()

		value, err := future.Get()

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if value != "success" {
			t.Errorf("expected value 'success', got %v", value)
		}
		if future.State() != StateFinished {
			t.Errorf("expected FINISHED, got %v", future.State())
		}
	})

	t.Run("error result", func(t *testing.T) {
		future := NewFuture[string]()
		expectedErr := errors.New("task failed")

		go func() { _ = future.SetError(expectedErr) }()

		value, err := future.Get()

		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if value != "" {
			t.Errorf("expected empty value, got %v", value)
		}
	})

	t.Run("multiple Get calls return same result", func(t *testing.T) {
		future := NewFuture[int]()
		_ = future.SetResult(123)

		value1, err1 := future.Get()
		value2, err2 := future.Get()

		if value1 != value2 || err1 != err2 {
			t.Errorf("Get calls returned different results")
		}
		if value1 != 123 {
			t.Errorf("expected value 123, got %v", value1)
		}
	})
}

func TestFuture_GetWithTimeout(t *testing.T) {
	t.Run("times out without changing state", func(t *testing.T) {
		future := NewFuture[int]()

		_, err := future.GetWithTimeout(20 * time.Millisecond)

		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
		if future.State() != StatePending {
			t.Errorf("expected PENDING after timeout, got %v", future.State())
		}
	})

	t.Run("result before timeout", func(t *testing.T) {
		future := NewFuture[int]()
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = future.SetResult(7)
		}()

		value, err := future.GetWithTimeout(time.Second)

		if err != nil || value != 7 {
			t.Errorf("expected (7, nil), got (%v, %v)", value, err)
		}
	})

	t.Run("zero timeout on completed future", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			future := NewFuture[int]()
			_ = future.SetResult(7)

			value, err := future.GetWithTimeout(0)

			if err != nil || value != 7 {
				t.Fatalf("attempt %d: expected (7, nil), got (%v, %v)", i, value, err)
			}
		}
	})

	t.Run("zero timeout on pending future", func(t *testing.T) {
		future := NewFuture[int]()

		_, err := future.GetWithTimeout(0)

		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("negative timeout waits", func(t *testing.T) {
		future := NewFuture[int]()
		_ = future.SetResult(1)

		if value, err := future.GetWithTimeout(-1); err != nil || value != 1 {
			t.Errorf("expected (1, nil), got (%v, %v)", value, err)
		}
	})
}

func TestFuture_GetWithContext(t *testing.T) {
	t.Run("successful result before timeout", func(t *testing.T) {
		future := NewFuture[string]()
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = future.SetResult("success")
		}()

		value, err := future.GetWithContext(ctx)

		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if value != "success" {
			t.Errorf("expected value 'success', got %v", value)
		}
	})

	t.Run("context timeout before result", func(t *testing.T) {
		future := NewFuture[string]()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		value, err := future.GetWithContext(ctx)

		if err != context.DeadlineExceeded {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
		if value != "" {
			t.Errorf("expected empty value, got %v", value)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		future := NewFuture[string]()
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		if _, err := future.GetWithContext(ctx); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestFuture_TryGet(t *testing.T) {
	t.Run("result not ready", func(t *testing.T) {
		future := NewFuture[string]()

		value, err, ready := future.TryGet()

		if ready {
			t.Error("expected ready to be false")
		}
		if value != "" || err != nil {
			t.Errorf("expected zero outcome, got (%v, %v)", value, err)
		}
	})

	t.Run("result ready", func(t *testing.T) {
		future := NewFuture[string]()
		_ = future.SetResult("ready")

		value, err, ready := future.TryGet()

		if !ready {
			t.Error("expected ready to be true")
		}
		if value != "ready" || err != nil {
			t.Errorf("expected (ready, nil), got (%v, %v)", value, err)
		}
	})
}

func TestFuture_Cancel(t *testing.T) {
	t.Run("pending future cancels", func(t *testing.T) {
		future := NewFuture[int]()

		if !future.Cancel() {
			t.Fatal("expected Cancel to succeed on a pending future")
		}
		if !future.Cancelled() || !future.IsDone() {
			t.Errorf("expected cancelled and done, got %v", future.State())
		}
		if _, err := future.Get(); !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
		if !future.Cancel() {
			t.Error("cancelling twice should still report true")
		}
	})

	t.Run("running future cannot be cancelled", func(t *testing.T) {
		future := NewFuture[int]()

		if !future.SetRunningOrNotifyCancel() {
			t.Fatal("expected claim to succeed")
		}
		if !future.Running() {
			t.Errorf("expected RUNNING, got %v", future.State())
		}
		if future.Cancel() {
			t.Error("expected Cancel to fail on a running future")
		}
		if future.IsDone() {
			t.Error("running future must not be done")
		}
	})

	t.Run("finished future cannot be cancelled", func(t *testing.T) {
		future := NewFuture[int]()
		_ = future.SetResult(3)

		if future.Cancel() {
			t.Error("expected Cancel to fail on a finished future")
		}
		if value, _ := future.Get(); value != 3 {
			t.Errorf("expected value 3, got %d", value)
		}
	})

	t.Run("claim after cancel is refused", func(t *testing.T) {
		future := NewFuture[int]()
		future.Cancel()

		if future.SetRunningOrNotifyCancel() {
			t.Error("expected claim of a cancelled future to fail")
		}
	})
}

func TestFuture_CompleteTwice(t *testing.T) {
	future := NewFuture[int]()

	if err := future.SetResult(1); err != nil {
		t.Fatalf("first SetResult failed: %v", err)
	}
	if err := future.SetResult(2); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if err := future.SetError(errors.New("late")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	cancelled := NewFuture[int]()
	cancelled.Cancel()
	if err := cancelled.SetResult(1); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on cancelled future, got %v", err)
	}

	if value, _ := future.Get(); value != 1 {
		t.Errorf("expected first result to stick, got %d", value)
	}
}

func TestFuture_DoneCallbacks(t *testing.T) {
	t.Run("run once in registration order", func(t *testing.T) {
		future := NewFuture[int]()
		var order []int

		for i := range 3 {
			future.AddDoneCallback(func(f *Future[int]) error {
				order = append(order, i)
				return nil
			})
		}

		_ = future.SetResult(1)

		if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
			t.Errorf("unexpected callback order %v", order)
		}
	})

	t.Run("added after completion runs immediately", func(t *testing.T) {
		future := NewFuture[int]()
		_ = future.SetResult(5)

		var got int
		future.AddDoneCallback(func(f *Future[int]) error {
			got, _ = f.Get()
			return nil
		})

		if got != 5 {
			t.Errorf("expected immediate callback to see 5, got %d", got)
		}
	})

	t.Run("cancel triggers callbacks", func(t *testing.T) {
		future := NewFuture[int]()
		var sawCancelled bool
		future.AddDoneCallback(func(f *Future[int]) error {
			sawCancelled = f.Cancelled()
			return nil
		})

		future.Cancel()

		if !sawCancelled {
			t.Error("expected callback to observe cancellation")
		}
	})

	t.Run("failures are isolated and recorded", func(t *testing.T) {
		future := NewFuture[int]()
		boom := errors.New("boom")
		var ranLast bool

		future.AddDoneCallback(func(*Future[int]) error { return boom })
		future.AddDoneCallback(func(*Future[int]) error { panic("kaboom") })
		future.AddDoneCallback(func(*Future[int]) error {
			ranLast = true
			return nil
		})

		_ = future.SetResult(1)

		if !ranLast {
			t.Error("a failing callback prevented later callbacks")
		}

		failures := future.CallbackErrors()
		if len(failures) != 2 {
			t.Fatalf("expected 2 recorded failures, got %d", len(failures))
		}

		var first, second *CallbackError
		if !errors.As(failures[0], &first) || first.Index != 0 || !errors.Is(first, boom) {
			t.Errorf("unexpected first failure %v", failures[0])
		}
		if !errors.As(failures[1], &second) || second.Index != 1 || second.Panic != "kaboom" || len(second.Stack) == 0 {
			t.Errorf("unexpected second failure %v", failures[1])
		}
	})
}

func TestFuture_Done(t *testing.T) {
	future := NewFuture[string]()

	select {
	case <-future.Done():
		t.Error("Done channel should not be closed yet")
	case <-time.After(20 * time.Millisecond):
	}

	go func() { _ = future.SetResult("done") }()

	select {
	case <-future.Done():
		if value, _ := future.Get(); value != "done" {
			t.Errorf("expected value 'done', got %v", value)
		}
	case <-time.After(time.Second):
		t.Error("Done channel should be closed after result is ready")
	}
}

func TestFuture_ConcurrentAccess(t *testing.T) {
	t.Run("concurrent Get calls", func(t *testing.T) {
		future := NewFuture[int]()

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = future.SetResult(999)
		}()

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, err := future.Get()
				if err != nil || value != 999 {
					t.Errorf("unexpected result: value=%v, err=%v", value, err)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("cancel races completion", func(t *testing.T) {
		for range 100 {
			future := NewFuture[int]()
			var calls sync.WaitGroup
			var count int
			var mu sync.Mutex
			calls.Add(1)
			future.AddDoneCallback(func(*Future[int]) error {
				mu.Lock()
				count++
				mu.Unlock()
				calls.Done()
				return nil
			})

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				future.Cancel()
			}()
			go func() {
				defer wg.Done()
				if future.SetRunningOrNotifyCancel() {
					_ = future.SetResult(1)
				}
			}()
			wg.Wait()
			calls.Wait()

			if count != 1 {
				t.Fatalf("callback ran %d times", count)
			}
			if !future.IsDone() {
				t.Fatalf("future not done: %v", future.State())
			}
		}
	})
}
