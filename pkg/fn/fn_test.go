package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() {
		t.Fatal("Err should be err")
	}
	if _, err := e.Unwrap(); err == nil || err.Error() != "fail" {
		t.Fatalf("unexpected unwrap error %v", err)
	}
}

func TestFromPairKeepsPartialValue(t *testing.T) {
	r := FromPair([]int{1, 2}, errors.New("page 3"))
	if r.IsOk() {
		t.Fatal("expected error result")
	}
	v, err := r.Unwrap()
	if len(v) != 2 || err == nil {
		t.Fatalf("expected partial value with error, got %v %v", v, err)
	}
	if ok := FromPair("x", nil); !ok.IsOk() {
		t.Fatal("nil error should be ok")
	}
}

// --- Retry ---

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(calls)
	})
	if v, err := r.Unwrap(); err != nil || v != 3 {
		t.Fatalf("expected 3, got %v %v", v, err)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	var retried []int
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 2,
		InitialWait: time.Millisecond,
		OnRetry:     func(next int, _ error) { retried = append(retried, next) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() || calls != 2 {
		t.Fatalf("expected 2 failed calls, got %d", calls)
	}
	if len(retried) != 1 || retried[0] != 2 {
		t.Fatalf("expected one retry before attempt 2, got %v", retried)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[string] {
		calls++
		return Err[string](permanent)
	})
	if calls != 1 || r.IsOk() {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retry(ctx, RetryOpts{MaxAttempts: 5, InitialWait: time.Hour}, func(context.Context) Result[int] {
		cancel()
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryOpts{}, func(context.Context) Result[int] {
		calls++
		return Ok(1)
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

// --- Slices ---

func TestMapFilterUnique(t *testing.T) {
	strs := Map([]int{1, 2, 3}, strconv.Itoa)
	if len(strs) != 3 || strs[2] != "3" {
		t.Fatalf("unexpected map result %v", strs)
	}
	even := Filter([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
	if len(even) != 2 || even[0] != 2 {
		t.Fatalf("unexpected filter result %v", even)
	}
	u := Unique([]string{"a", "b", "a", "c", "b"})
	if len(u) != 3 || u[0] != "a" || u[2] != "c" {
		t.Fatalf("unexpected unique result %v", u)
	}
}
