// Package httpkit builds the HTTP clients Docket uses for outbound calls.
// The Backboard gateway and the GitHub importer both construct their
// clients here, so pool limits, timeouts, the User-Agent header, and
// transient-failure retries behave the same everywhere.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/nugget/docket-ai-agent/internal/buildinfo"
)

// Transport tuning. The response header wait is deliberately short here;
// callers that block on long upstream work raise it on their own
// transport before passing it in.
const (
	dialTimeout     = 10 * time.Second
	keepAlivePeriod = 30 * time.Second
	tlsTimeout      = 10 * time.Second
	headerTimeout   = 15 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdleConns    = 20
	maxIdlePerHost  = 5
	defaultTimeout  = 30 * time.Second
	drainOnCloseMax = 1024
)

// Option adjusts how NewClient assembles a client.
type Option func(*options)

type options struct {
	timeout   time.Duration
	transport *http.Transport
	retries   int
	retryWait time.Duration
	log       *slog.Logger
}

// WithTimeout sets the whole-request timeout. Zero means no deadline,
// which the provider client uses for requests that wait on a model run.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTransport substitutes a caller-owned transport for the default one.
func WithTransport(t *http.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithRetry re-sends a request up to count times after a transient
// connect failure, sleeping wait between attempts. Requests whose body
// cannot be replayed through GetBody are never retried.
func WithRetry(count int, wait time.Duration) Option {
	return func(o *options) {
		o.retries = count
		o.retryWait = wait
	}
}

// WithLogger receives retry diagnostics. Without it retries are silent.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// NewTransport returns a transport with Docket's dial, TLS, and pool
// settings applied. Callers may tweak individual fields before handing
// it to NewClient.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlivePeriod}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   tlsTimeout,
		ResponseHeaderTimeout: headerTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient assembles an *http.Client from the options. Every client
// stamps the Docket User-Agent on requests that do not set their own.
func NewClient(opts ...Option) *http.Client {
	o := options{timeout: defaultTimeout}
	for _, apply := range opts {
		apply(&o)
	}
	if o.transport == nil {
		o.transport = NewTransport()
	}

	rt := withUserAgent(o.transport, buildinfo.UserAgent())
	if o.retries > 0 {
		rt = &retryTransport{next: rt, attempts: o.retries, wait: o.retryWait, log: o.log}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func withUserAgent(next http.RoundTripper, ua string) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("User-Agent") == "" {
			// RoundTrippers must not mutate the caller's request.
			req = req.Clone(req.Context())
			req.Header.Set("User-Agent", ua)
		}
		return next.RoundTrip(req)
	})
}

// retryTransport re-sends requests that die before reaching the server.
// The retryable errno set is limited to connect-time failures; errors
// that can arrive after the server saw the request (ECONNRESET above
// all) stay out of it, since a retry there could double a side effect.
type retryTransport struct {
	next     http.RoundTripper
	attempts int
	wait     time.Duration
	log      *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil || !transientDialErr(err) || !replayable(req) {
		return resp, err
	}

	for attempt := 1; attempt <= t.attempts; attempt++ {
		if t.log != nil {
			t.log.Debug("transient connect failure, retrying",
				"method", req.Method,
				"url", req.URL.String(),
				"attempt", attempt,
				"of", t.attempts,
				"error", err,
			)
		}

		timer := time.NewTimer(t.wait)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		clone := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("replay request body: %w", bodyErr)
			}
			clone.Body = body
		}

		prev := err
		resp, err = t.next.RoundTrip(clone)
		if err == nil {
			if t.log != nil {
				t.log.Info("request recovered after retry",
					"method", req.Method,
					"url", req.URL.String(),
					"attempts", attempt+1,
					"last_error", prev.Error(),
				)
			}
			return resp, nil
		}
		if !transientDialErr(err) {
			return resp, err
		}
	}

	return resp, err
}

// replayable reports whether a request can safely be sent again: either
// it carries no body, or GetBody can produce a fresh copy.
func replayable(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return true
	}
	return req.GetBody != nil
}

// transientDialErr matches errors raised while connecting, before any
// bytes reach the server. errors.As walks through net.OpError and
// os.SyscallError wrappers on its own.
func transientDialErr(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		return true
	}
	return false
}

// DrainAndClose consumes at most limit bytes from rc and closes it, so
// the underlying connection can go back into the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns up to limit bytes of rc for use in an error
// message, draining and closing the rest. A nil rc yields "".
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, drainOnCloseMax)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
