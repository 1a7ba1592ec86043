// Package logging holds the module's default go-kit logger and a
// rate-limited wrapper for call sites that might otherwise log once
// per event-loop iteration under sustained failure (e.g. repeated
// transport errors on a misbehaving peer).
package logging

import (
	"os"

	"github.com/go-kit/log"
	"golang.org/x/time/rate"
)

// Logger is the module's default logger: logfmt to stderr, with a
// UTC timestamp and the calling file:line on every line.
var Logger = log.With(
	log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)),
	"ts", log.DefaultTimestampUTC,
	"caller", log.DefaultCaller,
)

// RateLimitedLogger drops log lines once more than its configured
// rate have been logged in the current second, forwarding the rest to
// next unchanged.
type RateLimitedLogger struct {
	limiter *rate.Limiter
	next    log.Logger
}

// NewRateLimitedLogger returns a logger allowing at most
// ratePerSecond Log calls per second to reach next.
func NewRateLimitedLogger(ratePerSecond int, next log.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
		next:    next,
	}
}

// Log implements go-kit's log.Logger, dropping the call silently if
// the rate limit has been exceeded.
func (l *RateLimitedLogger) Log(keyvals ...interface{}) error {
	if !l.limiter.Allow() {
		return nil
	}
	return l.next.Log(keyvals...)
}
