package rate

import (
	"net/http"
	"strconv"
	"time"

	"fundingscan/logger"
)

// ReportBybitWeight parses Bybit rate-limit headers and emits a
// `used_weight` gauge for the endpoint. Both the X-Bapi-* headers and the
// generic X-RateLimit-* variants are accepted. Nothing is emitted when the
// response carries neither.
func ReportBybitWeight(log *logger.Log, header http.Header, endpoint string) {
	limitStr := header.Get("X-Bapi-Limit")
	if limitStr == "" {
		limitStr = header.Get("X-RateLimit-Limit")
	}
	remainingStr := header.Get("X-Bapi-Limit-Status")
	if remainingStr == "" {
		remainingStr = header.Get("X-RateLimit-Remaining")
	}
	if limitStr == "" && remainingStr == "" {
		return
	}

	limit, _ := strconv.ParseInt(limitStr, 10, 64)
	remaining, _ := strconv.ParseInt(remainingStr, 10, 64)
	used := limit - remaining
	if used < 0 {
		used = 0
	}

	log.LogMetric("bybit_reader", "used_weight", used, "gauge", logger.Fields{"endpoint": endpoint})
}

// BybitResetAfter returns the time left until the window announced by
// X-Bapi-Limit-Reset-Timestamp (unix milliseconds) resets.
func BybitResetAfter(header http.Header, now time.Time) (time.Duration, bool) {
	raw := header.Get("X-Bapi-Limit-Reset-Timestamp")
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	d := time.UnixMilli(ms).Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
