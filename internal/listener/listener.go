// Package listener implements the accept loop: admit → classify → dispatch
// → release (spec §2). Grounded on nabbar-golib/httpserver's server
// lifecycle (Listen/Serve/Shutdown wrapping a *http.Server), generalized
// here to dispatch across up to three engines behind one worker domain
// when ProxyType is Combined.
package listener

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nabbar/bifrost/internal/bferr"
	"github.com/nabbar/bifrost/internal/forwardproxy"
	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/ratelimit"
	"github.com/nabbar/bifrost/internal/reverseproxy"
	"github.com/nabbar/bifrost/internal/staticfiles"
	"github.com/nabbar/bifrost/internal/worker"
)

// Mode selects which engines a Listener classifies requests across.
type Mode uint8

const (
	ModeForward Mode = iota
	ModeReverse
	ModeCombined
)

// Listener owns one net/http.Server bound to one worker domain. Admission
// is charged per TCP connection via ConnState, matching the "one
// connection, one task, one admission slot" model of spec §5; rate
// limiting is charged per request, after admission, mirroring the
// original implementation's placement (original_source/src/rate_limit.rs).
type Listener struct {
	mode Mode
	wrk  *worker.Worker
	log  *logx.Logger
	lim  *ratelimit.Limiter

	forward *forwardproxy.Engine
	reverse *reverseproxy.Engine
	static  *staticfiles.Engine

	srv             *http.Server
	gracefulTimeout time.Duration
}

// Config bundles everything New needs to assemble one domain's listener.
type Config struct {
	Mode            Mode
	Addr            string
	TLS             *tls.Config
	Worker          *worker.Worker
	Logger          *logx.Logger
	RateLimit       *ratelimit.Limiter
	Forward         *forwardproxy.Engine
	Reverse         *reverseproxy.Engine
	Static          *staticfiles.Engine
	MaxHeaderBytes  int
	GracefulTimeout time.Duration
}

func New(cfg Config) *Listener {
	l := &Listener{
		mode:            cfg.Mode,
		wrk:             cfg.Worker,
		log:             cfg.Logger,
		lim:             cfg.RateLimit,
		forward:         cfg.Forward,
		reverse:         cfg.Reverse,
		static:          cfg.Static,
		gracefulTimeout: cfg.GracefulTimeout,
	}

	l.srv = &http.Server{
		Addr:           cfg.Addr,
		Handler:        http.HandlerFunc(l.serveHTTP),
		TLSConfig:      cfg.TLS,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ConnState:      l.connState,
	}
	return l
}

// connState charges and releases one admission slot per TCP connection's
// lifetime, the way spec §5 describes "every accepted connection becomes
// one task" and its release hook firing regardless of how the task ends.
func (l *Listener) connState(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		if !l.wrk.Admit() {
			// Caller cannot observe this: admission rejection is a silent
			// socket close per spec §7, not a client-visible status. The
			// connection is still counted as "new" by net/http, so we must
			// not double count; Serve will close it once idle times out.
			return
		}
	case http.StateClosed, http.StateHijacked:
		l.wrk.Release()
	}
}

// ListenAndServe binds and serves until the context is canceled, then
// drains in-flight requests for up to gracefulTimeout before forcing
// shutdown (spec §5: "Graceful shutdown").
func (l *Listener) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		var err error
		if l.srv.TLSConfig != nil {
			err = l.srv.ListenAndServeTLS("", "")
		} else {
			err = l.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), l.gracefulTimeout)
		defer cancel()
		if err := l.srv.Shutdown(shutdownCtx); err != nil {
			_ = l.srv.Close()
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if !l.wrk.CanAccept() {
		// The semaphore already gated this at connState; CanAccept here is
		// a defense against a slot released between accept and first byte.
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if l.lim != nil && l.lim.Enabled() {
		clientIP := clientIPOf(r)
		allowed := l.lim.Allow(clientIP)
		remaining, retryAfter := l.lim.Remaining(clientIP)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.lim.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
		r.Header.Set("X-Request-Id", reqID)
	}
	w.Header().Set("X-Request-Id", reqID)

	log := l.log.With(logx.Fields{"conn_id": reqID, "remote_addr": r.RemoteAddr})

	start := time.Now()
	err := worker.Guard(log, func() {}, func() error {
		l.dispatch(w, r)
		return nil
	})
	l.wrk.Metrics.ObserveResponseTime(float64(time.Since(start).Milliseconds()))

	if err != nil {
		log.WithError(err).Error("unhandled panic serving request")
		http.Error(w, "internal error", bferr.KindInternal.Status())
	}
}

// dispatch classifies the request and routes it to the right engine. In
// ModeCombined, CONNECT and absolute-URI requests always go to the
// forward engine (they cannot mean anything else); otherwise the static
// mount table is tried before the reverse-proxy table, since a mount is
// a more specific match than a catch-all route.
func (l *Listener) dispatch(w http.ResponseWriter, r *http.Request) {
	switch l.mode {
	case ModeForward:
		l.forward.ServeHTTP(w, r)
	case ModeReverse:
		l.dispatchReverseOrStatic(w, r)
	default: // ModeCombined
		if r.Method == http.MethodConnect || r.URL.IsAbs() {
			l.forward.ServeHTTP(w, r)
			return
		}
		l.dispatchReverseOrStatic(w, r)
	}
}

func (l *Listener) dispatchReverseOrStatic(w http.ResponseWriter, r *http.Request) {
	if l.static != nil {
		if _, _, ok := l.static.Table().Resolve(r.URL.Path); ok {
			l.static.ServeHTTP(w, r)
			return
		}
	}
	if l.reverse != nil {
		l.reverse.ServeHTTP(w, r)
		return
	}
	http.Error(w, "no matching route", bferr.KindRouting.Status())
}

func clientIPOf(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
