// Package h2c enables HTTP/2 cleartext upgrade on top of an
// httpbridge handler, mirroring the teacher's EnableHTTP2 idiom
// (h2c.NewHandler wrapping the existing handler once, behind a
// sync.Once so repeated calls are safe).
package h2c

import (
	"net/http"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Upgrader wraps a handler with h2c support exactly once.
type Upgrader struct {
	once    sync.Once
	wrapped http.Handler
}

// Enable returns handler upgraded for HTTP/2 cleartext, memoizing the
// wrap so repeated calls are idempotent.
func (u *Upgrader) Enable(handler http.Handler) http.Handler {
	u.once.Do(func() {
		u.wrapped = h2c.NewHandler(handler, &http2.Server{})
	})
	return u.wrapped
}
