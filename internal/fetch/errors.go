package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fundingscan/internal/metrics/rate"
)

// Kind classifies a failed request.
type Kind int

const (
	// KindHTTP is a non-2xx response other than 429.
	KindHTTP Kind = iota + 1
	// KindRateLimited is a single throttled response. It is retryable.
	KindRateLimited
	// KindRateLimitExceeded is returned once retries are exhausted while
	// the feed keeps throttling.
	KindRateLimitExceeded
	KindTimeout
	KindNetwork
	// KindMalformed means the body could not be decoded as a whole.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http error"
	case KindRateLimited:
		return "rate limited"
	case KindRateLimitExceeded:
		return "rate limit exceeded"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network error"
	case KindMalformed:
		return "malformed response"
	default:
		return "unknown"
	}
}

// Error is the typed failure of a fetch. Code carries a feed-level status
// such as Bybit's retCode when one is known.
type Error struct {
	Kind       Kind
	Status     int
	Code       int
	Body       string
	URL        string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fetch: ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.URL != "" {
		b.WriteString(" GET ")
		b.WriteString(e.URL)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the request may succeed when repeated.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindNetwork:
		return true
	case KindHTTP:
		return e.Status >= 500
	default:
		return false
	}
}

// Throttled reports whether the feed refused the request for rate reasons.
func (e *Error) Throttled() bool {
	return e.Kind == KindRateLimited || e.Kind == KindRateLimitExceeded
}

// AsError extracts the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsKind reports whether err carries a fetch error of kind k.
func IsKind(err error, k Kind) bool {
	fe, ok := AsError(err)
	return ok && fe.Kind == k
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// FromStatus builds the error for a non-2xx response.
func FromStatus(url string, status int, header http.Header, body []byte) *Error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	e := &Error{
		Kind:   KindHTTP,
		Status: status,
		Body:   strings.TrimSpace(string(body)),
		URL:    url,
	}
	if status == http.StatusTooManyRequests {
		e.Kind = KindRateLimited
		e.RetryAfter, _ = RetryAfter(header, time.Now())
	}
	return e
}

// FromTransport classifies an error returned by the round trip itself.
// Cancellation is returned untouched so callers can surface ctx.Err().
func FromTransport(url string, err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := AsError(err); ok {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	return &Error{Kind: KindNetwork, URL: url, Err: err}
}

// Malformed wraps a whole-response decoding failure.
func Malformed(url string, err error) *Error {
	return &Error{Kind: KindMalformed, URL: url, Err: err}
}

// RateLimited builds a rate-limited error from a feed-level payload, e.g. a
// Bybit response with HTTP 200 and retCode 10006.
func RateLimited(url string, code int, msg string, header http.Header) *Error {
	e := &Error{Kind: KindRateLimited, Code: code, Body: msg, URL: url}
	if header != nil {
		e.RetryAfter, _ = RetryAfter(header, time.Now())
	}
	return e
}

// RetryAfter reads a server supplied wait hint. Retry-After may be a number
// of seconds or an HTTP date; Bybit sends X-Bapi-Limit-Reset-Timestamp.
func RetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second, true
		}
		if t, err := http.ParseTime(v); err == nil {
			d := t.Sub(now)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}
	return rate.BybitResetAfter(header, now)
}
