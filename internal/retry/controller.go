// Package retry runs a request operation under a bounded backoff policy.
// Each Execute call owns its state; a Controller only carries policy.
package retry

import (
	"context"
	"time"

	"fundingscan/internal/fetch"
	"fundingscan/internal/metrics/rate"
	"fundingscan/logger"
)

// State is a step of the retry state machine.
type State int

const (
	StateAttempting State = iota
	StateBackoff
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackoff:
		return "backoff"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Policy bounds the retry loop. MaxAttempts below 1 is treated as 1.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) next(d time.Duration) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	return p.clamp(time.Duration(float64(d) * m))
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Transition is reported to an observer on every state change.
type Transition struct {
	Name    string
	Attempt int
	From    State
	To      State
	Delay   time.Duration
	Err     error
}

// Outcome summarises one Execute call.
type Outcome struct {
	Attempts int
	Retries  int
	Delays   []time.Duration
	State    State
}

type Controller struct {
	policy   Policy
	sleep    Sleeper
	observer func(Transition)
	log      *logger.Log
	feed     string
}

type Option func(*Controller)

func WithSleeper(s Sleeper) Option {
	return func(c *Controller) {
		if s != nil {
			c.sleep = s
		}
	}
}

func WithObserver(fn func(Transition)) Option {
	return func(c *Controller) { c.observer = fn }
}

func WithLogger(log *logger.Log) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

func NewController(p Policy, opts ...Option) *Controller {
	c := &Controller{
		policy: p,
		sleep:  ContextSleep,
		log:    logger.GetLogger(),
		feed:   "fetch",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForFeed returns a copy of c whose metrics and logs are tagged with feed.
func (c *Controller) ForFeed(feed string) *Controller {
	cp := *c
	cp.feed = feed
	return &cp
}

// Policy returns the controller's policy.
func (c *Controller) Policy() Policy { return c.policy }

func (c *Controller) emit(t Transition) {
	if c.observer != nil {
		c.observer(t)
	}
}

// Execute runs op until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done. Throttled responses that exhaust
// the attempts surface as fetch.KindRateLimitExceeded; other retryable
// kinds surface unchanged.
func Execute[T any](ctx context.Context, c *Controller, name string, op func(context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	out := Outcome{State: StateAttempting}
	maxAttempts := c.policy.attempts()
	delay := c.policy.clamp(c.policy.BaseDelay)
	log := c.log.WithComponent("retry").WithFields(logger.Fields{"feed": c.feed, "request": name})

	fail := func(err error) (T, Outcome, error) {
		c.emit(Transition{Name: name, Attempt: out.Attempts, From: out.State, To: StateFailed, Err: err})
		out.State = StateFailed
		rate.ReportRetries(c.log, c.feed, name, out.Retries)
		return zero, out, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		out.Attempts++

		val, err := op(ctx)
		if err == nil {
			c.emit(Transition{Name: name, Attempt: out.Attempts, From: out.State, To: StateSuccess})
			out.State = StateSuccess
			rate.ReportRetries(c.log, c.feed, name, out.Retries)
			return val, out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}

		fe, ok := fetch.AsError(err)
		if !ok || !fe.Retryable() {
			return fail(err)
		}
		if fe.Throttled() {
			rate.ReportRateLimitExceeded(c.log, c.feed, name, out.Attempts)
		}
		if out.Attempts >= maxAttempts {
			log.WithError(err).WithField("attempts", out.Attempts).Warn("retries exhausted")
			return fail(exhausted(fe))
		}

		wait := delay
		if fe.RetryAfter > 0 {
			wait = c.policy.clamp(fe.RetryAfter)
		}
		c.emit(Transition{Name: name, Attempt: out.Attempts, From: StateAttempting, To: StateBackoff, Delay: wait, Err: err})
		out.State = StateBackoff
		out.Delays = append(out.Delays, wait)
		out.Retries++
		log.WithFields(logger.Fields{
			"attempt":  out.Attempts,
			"delay_ms": wait.Milliseconds(),
			"kind":     fe.Kind.String(),
		}).Debug("backing off")

		if err := c.sleep(ctx, wait); err != nil {
			return fail(err)
		}
		delay = c.policy.next(delay)

		c.emit(Transition{Name: name, Attempt: out.Attempts + 1, From: StateBackoff, To: StateAttempting})
		out.State = StateAttempting
	}
}

func exhausted(fe *fetch.Error) error {
	if fe.Kind != fetch.KindRateLimited {
		return fe
	}
	return &fetch.Error{
		Kind:   fetch.KindRateLimitExceeded,
		Status: fe.Status,
		Code:   fe.Code,
		Body:   fe.Body,
		URL:    fe.URL,
		Err:    fe,
	}
}
