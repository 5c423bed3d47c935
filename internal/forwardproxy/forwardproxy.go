// Package forwardproxy implements the absolute-URI and CONNECT-tunnel
// engine (spec §4.3). Grounded in the teacher's net/http-first style
// (nabbar-golib/httpserver never wraps a web framework around the raw
// server); the hijack-and-splice tunnel primitive is written fresh since
// no pack repo implements CONNECT tunneling.
package forwardproxy

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/nabbar/bifrost/internal/httputil"
	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/worker"
)

// RelayProxy is a chained upstream proxy selected when the target host
// matches Domain (NO_PROXY-style: exact, leading-dot suffix, or `*.`
// wildcard).
type RelayProxy struct {
	Domain   string
	Address  string
	Username string
	Password string
}

// Config configures one forward-proxy engine instance.
type Config struct {
	Username string
	Password string
	Relays   []RelayProxy
}

func (c Config) authRequired() bool {
	return c.Username != "" || c.Password != ""
}

// Engine handles absolute-URI forwarding and CONNECT tunnels for one
// forward-proxy worker domain.
type Engine struct {
	cfg Config
	wrk *worker.Worker
	log *logx.Logger
	dial net.Dialer
}

func NewEngine(cfg Config, wrk *worker.Worker, log *logx.Logger) *Engine {
	return &Engine{
		cfg:  cfg,
		wrk:  wrk,
		log:  log,
		dial: net.Dialer{Timeout: wrk.Limits.ConnectTimeout},
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.wrk.Metrics.IncRequests()

	if !e.authorize(w, r) {
		return
	}

	if r.Method == http.MethodConnect {
		e.serveConnect(w, r)
		return
	}
	e.serveAbsoluteURI(w, r)
}

func (e *Engine) authorize(w http.ResponseWriter, r *http.Request) bool {
	if !e.cfg.authRequired() {
		return true
	}

	hdr := r.Header.Get("Proxy-Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(hdr, prefix) {
		e.require407(w)
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hdr, prefix))
	if err != nil {
		e.require407(w)
		return false
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		e.require407(w)
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(parts[0]), []byte(e.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(parts[1]), []byte(e.cfg.Password)) == 1
	if !userOK || !passOK {
		e.require407(w)
		return false
	}
	return true
}

func (e *Engine) require407(w http.ResponseWriter) {
	w.Header().Set("Proxy-Authenticate", "Basic")
	w.WriteHeader(http.StatusProxyAuthRequired)
}

// serveAbsoluteURI handles "GET http://host/path HTTP/1.1"-shaped
// requests, and the Host-header fallback when the request target is
// relative.
func (e *Engine) serveAbsoluteURI(w http.ResponseWriter, r *http.Request) {
	targetURL := r.URL
	if !targetURL.IsAbs() {
		if r.Host == "" {
			http.Error(w, "missing target host", http.StatusBadRequest)
			return
		}
		abs := *r.URL
		abs.Scheme = "http"
		abs.Host = r.Host
		targetURL = &abs
	}

	dialHost := targetURL.Host
	if !strings.Contains(dialHost, ":") {
		dialHost += ":80"
	}

	connectHost := e.relayFor(targetURL.Hostname())

	ctx, cancel := context.WithTimeout(r.Context(), e.wrk.Limits.ConnectTimeout)
	defer cancel()

	var conn net.Conn
	var err error
	if connectHost != "" {
		conn, err = e.dial.DialContext(ctx, "tcp", connectHost)
	} else {
		conn, err = e.dial.DialContext(ctx, "tcp", dialHost)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "upstream connect timed out", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "upstream connect failed", http.StatusBadGateway)
		}
		return
	}
	defer conn.Close()

	outReq := r.Clone(ctx)
	outReq.URL.Scheme = ""
	outReq.URL.Host = ""
	outReq.RequestURI = ""
	httputil.StripHopByHop(outReq.Header)

	if err := outReq.Write(conn); err != nil {
		http.Error(w, "failed writing upstream request", http.StatusBadGateway)
		return
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), outReq)
	if err != nil {
		http.Error(w, "failed reading upstream response", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	httputil.StripHopByHop(resp.Header)
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, resp.Body)
	e.wrk.Metrics.AddResponseBytes(n)
}

// serveConnect implements the CONNECT tunnel: dial upstream, respond 200,
// then splice the hijacked client connection with the upstream socket
// bidirectionally until either side closes.
func (e *Engine) serveConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Opaque
	if authority == "" {
		authority = r.Host
	}
	if authority == "" {
		http.Error(w, "missing CONNECT authority", http.StatusBadRequest)
		return
	}

	dialTarget := e.relayFor(hostOnly(authority))
	if dialTarget == "" {
		dialTarget = authority
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.wrk.Limits.ConnectTimeout)
	defer cancel()

	upstream, err := e.dial.DialContext(ctx, "tcp", dialTarget)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "upstream connect timed out", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "upstream connect failed", http.StatusBadGateway)
		}
		return
	}

	if dialTarget != authority {
		// Relay chaining: issue a nested CONNECT carrying relay credentials.
		if !e.nestedConnect(upstream, authority) {
			_ = upstream.Close()
			http.Error(w, "relay authentication failed", http.StatusBadGateway)
			return
		}
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}

	client, buf, err := hj.Hijack()
	if err != nil {
		_ = upstream.Close()
		return
	}

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = client.Close()
		_ = upstream.Close()
		return
	}

	splice(client, buf, upstream, e.wrk, e.log)
}

func (e *Engine) nestedConnect(upstream net.Conn, authority string) bool {
	var relay RelayProxy
	for _, r := range e.cfg.Relays {
		if relayMatches(r.Domain, authority) {
			relay = r
			break
		}
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority)
	if relay.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(relay.Username + ":" + relay.Password))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if _, err := upstream.Write([]byte(req)); err != nil {
		return false
	}

	resp, err := http.ReadResponse(bufio.NewReader(upstream), nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// relayFor returns the relay proxy address to dial instead of host, or ""
// if no relay pattern matches.
func (e *Engine) relayFor(host string) string {
	for _, r := range e.cfg.Relays {
		if relayMatches(r.Domain, host) {
			return r.Address
		}
	}
	return ""
}

// relayMatches implements NO_PROXY-style domain matching: exact,
// leading-dot suffix, or `*.` wildcard.
func relayMatches(pattern, host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	pattern = strings.ToLower(pattern)

	switch {
	case pattern == host:
		return true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) || host == pattern[2:]
	case strings.HasPrefix(pattern, "."):
		return strings.HasSuffix(host, pattern) || host == pattern[1:]
	default:
		return false
	}
}

func hostOnly(authority string) string {
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		return authority[:i]
	}
	return authority
}

// splice runs the bidirectional byte relay required of a CONNECT tunnel:
// either direction closing tears down both ends, and byte counters are
// finalized atomically into the worker's metrics (spec §4.3, §9).
func splice(client net.Conn, buffered io.Reader, upstream net.Conn, wrk *worker.Worker, log *logx.Logger) {
	defer client.Close()
	defer upstream.Close()

	done := make(chan int64, 2)

	go func() {
		n, _ := io.Copy(upstream, buffered)
		if tcp, ok := upstream.(interface{ CloseWrite() error }); ok {
			_ = tcp.CloseWrite()
		}
		done <- n
	}()
	go func() {
		n, _ := io.Copy(client, upstream)
		if tcp, ok := client.(interface{ CloseWrite() error }); ok {
			_ = tcp.CloseWrite()
		}
		done <- n
	}()

	n1 := <-done
	_ = client.Close()
	_ = upstream.Close()
	n2 := <-done
	wrk.Metrics.AddResponseBytes(n1 + n2)
}
