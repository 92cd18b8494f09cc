package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fundingscan/internal/fetch"
)

type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func newController(maxAttempts int, s *fakeSleeper, opts ...Option) *Controller {
	opts = append(opts, WithSleeper(s.sleep))
	return NewController(Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
	}, opts...)
}

func throttled() error { return &fetch.Error{Kind: fetch.KindRateLimited, Status: 429} }

func TestExecuteRetriesThrottleThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client := fetch.New(fetch.Options{Timeout: time.Second})
	s := &fakeSleeper{}
	var states []State
	c := newController(5, s, WithObserver(func(tr Transition) { states = append(states, tr.To) }))

	body, out, err := Execute(context.Background(), c, "test", func(ctx context.Context) (string, error) {
		resp, err := client.Get(ctx, srv.URL, nil, nil)
		if err != nil {
			return "", err
		}
		return string(resp.Body), nil
	})
	if err != nil || body != "ok" {
		t.Fatalf("Execute = %q, %v", body, err)
	}
	if out.Retries != 2 || out.Attempts != 3 || out.State != StateSuccess {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; !equalDurations(s.delays, want) {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
	wantStates := []State{StateBackoff, StateAttempting, StateBackoff, StateAttempting, StateSuccess}
	if len(states) != len(wantStates) {
		t.Fatalf("states = %v", states)
	}
	for i := range states {
		if states[i] != wantStates[i] {
			t.Fatalf("states = %v, want %v", states, wantStates)
		}
	}
}

func TestExecuteAlwaysThrottled(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	_, out, err := Execute(context.Background(), newController(3, s), "test", func(context.Context) (int, error) {
		calls++
		return 0, throttled()
	})
	if calls != 3 || out.Attempts != 3 || out.Retries != 2 {
		t.Fatalf("calls=%d outcome=%+v", calls, out)
	}
	if !fetch.IsKind(err, fetch.KindRateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}
	if out.State != StateFailed {
		t.Fatalf("state = %v", out.State)
	}
}

func TestExecuteZeroRetriesMakesOneAttempt(t *testing.T) {
	calls := 0
	_, out, err := Execute(context.Background(), newController(0, &fakeSleeper{}), "test", func(context.Context) (int, error) {
		calls++
		return 0, throttled()
	})
	if calls != 1 || out.Retries != 0 {
		t.Fatalf("calls=%d outcome=%+v", calls, out)
	}
	if !fetch.IsKind(err, fetch.KindRateLimitExceeded) {
		t.Fatalf("unexpected err %v", err)
	}
}

func TestExecuteNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"client error", &fetch.Error{Kind: fetch.KindHTTP, Status: 400, Body: "bad"}},
		{"malformed", fetch.Malformed("http://x", errors.New("eof"))},
		{"plain", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSleeper{}
			calls := 0
			_, out, err := Execute(context.Background(), newController(5, s), "test", func(context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			if calls != 1 || len(s.delays) != 0 {
				t.Fatalf("calls=%d delays=%v", calls, s.delays)
			}
			if !errors.Is(err, tt.err) || out.State != StateFailed {
				t.Fatalf("err=%v outcome=%+v", err, out)
			}
		})
	}
}

func TestExecuteExhaustedKeepsKind(t *testing.T) {
	tests := []struct {
		name string
		err  *fetch.Error
		kind fetch.Kind
	}{
		{"server error", &fetch.Error{Kind: fetch.KindHTTP, Status: 503}, fetch.KindHTTP},
		{"timeout", &fetch.Error{Kind: fetch.KindTimeout}, fetch.KindTimeout},
		{"network", &fetch.Error{Kind: fetch.KindNetwork}, fetch.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := Execute(context.Background(), newController(2, &fakeSleeper{}), "test", func(context.Context) (int, error) {
				return 0, tt.err
			})
			if out.Attempts != 2 || !fetch.IsKind(err, tt.kind) {
				t.Fatalf("err=%v outcome=%+v", err, out)
			}
		})
	}
}

func TestExecuteBackoffIsCapped(t *testing.T) {
	s := &fakeSleeper{}
	_, _, _ = Execute(context.Background(), newController(6, s), "test", func(context.Context) (int, error) {
		return 0, throttled()
	})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	if !equalDurations(s.delays, want) {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
}

func TestExecuteHonoursRetryAfter(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	_, out, err := Execute(context.Background(), newController(3, s), "test", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &fetch.Error{Kind: fetch.KindRateLimited, Status: 429, RetryAfter: 3 * time.Second}
		}
		if calls == 2 {
			return 0, &fetch.Error{Kind: fetch.KindRateLimited, Status: 429, RetryAfter: time.Minute}
		}
		return 7, nil
	})
	if err != nil || out.Retries != 2 {
		t.Fatalf("err=%v outcome=%+v", err, out)
	}
	if want := []time.Duration{3 * time.Second, 5 * time.Second}; !equalDurations(s.delays, want) {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2})

	done := make(chan error, 1)
	go func() {
		_, _, err := Execute(ctx, c, "test", func(context.Context) (int, error) {
			return 0, throttled()
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait was not aborted")
	}
}

func TestStateString(t *testing.T) {
	if StateBackoff.String() != "backoff" || State(42).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
