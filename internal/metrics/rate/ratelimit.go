package rate

import (
	"strings"

	"fundingscan/internal/metrics"
	"fundingscan/logger"
)

// ReportRateLimitExceeded records a throttled request for the given feed and
// endpoint. attempt is the 1-based attempt number that was throttled.
func ReportRateLimitExceeded(log *logger.Log, feed, endpoint string, attempt int) {
	component := strings.ToLower(feed) + "_reader"
	fields := logger.Fields{
		"feed":     strings.ToLower(feed),
		"endpoint": endpoint,
	}
	l := log.WithComponent(component)
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).WithField("attempt", attempt).Warn("rate limit exceeded")
}

// ReportRetries emits how many retries a request needed before it finished.
func ReportRetries(log *logger.Log, feed, endpoint string, retries int) {
	if retries == 0 {
		return
	}
	metrics.AddRetries(strings.ToLower(feed), retries)
	component := strings.ToLower(feed) + "_reader"
	log.LogMetric(component, "retry_attempts", int64(retries), "counter", logger.Fields{
		"feed":     strings.ToLower(feed),
		"endpoint": endpoint,
	})
}

// detectLimit inspects a message returned by a feed and reports whether it
// signals throttling or an IP ban. Wording differs per feed.
func detectLimit(feed, msg string) (rateLimit bool, ipBan bool) {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(feed) {
	case "bybit":
		ipBan = strings.Contains(lowerMsg, "ip rate limit") || (strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban"))
		rateLimit = !ipBan && (strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "too many visits"))
	case "coingecko":
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "throttled") || strings.Contains(lowerMsg, "too many requests")
	default:
		rateLimit = strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
		ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	}
	return
}

// IsThrottleMessage reports whether msg from the given feed means the
// caller is being throttled. IP bans count as throttling too.
func IsThrottleMessage(feed, msg string) bool {
	rl, ban := detectLimit(feed, msg)
	return rl || ban
}

// Bybit retCodes that signal request-frequency limits.
const (
	BybitCodeTooManyVisits = 10006
	BybitCodeIPBanned      = 10018
)

// IsBybitThrottle reports whether a Bybit retCode/retMsg pair is a rate
// limit response.
func IsBybitThrottle(retCode int, retMsg string) bool {
	if retCode == BybitCodeTooManyVisits || retCode == BybitCodeIPBanned {
		return true
	}
	return IsThrottleMessage("bybit", retMsg)
}
