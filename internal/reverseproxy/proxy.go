package reverseproxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/nabbar/bifrost/internal/bferr"
	"github.com/nabbar/bifrost/internal/httputil"
	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/worker"
)

const proxyServerIdent = "bifrost"

// Engine dispatches matched requests to the selected upstream Target,
// applying header rewriting, optional retry and response streaming.
//
// client is built once and shared by every request: its Transport dials
// through trackedDial, which charges each new socket against wrk.Pool so
// the pool's active count reflects real upstream occupancy, and floats
// the accounting back down on close. Socket reuse itself is delegated to
// the Transport's own keep-alive pool, matching net/http.Transport's
// usual role in the teacher's httpserver client helpers; wrk.Pool is the
// accounting ledger the health and metrics endpoints read, not a second
// independent reuse layer.
type Engine struct {
	table  *Table
	wrk    *worker.Worker
	log    *logx.Logger
	dial   net.Dialer
	client *http.Client
}

func NewEngine(table *Table, wrk *worker.Worker, log *logx.Logger) *Engine {
	e := &Engine{
		table: table,
		wrk:   wrk,
		log:   log,
		dial:  net.Dialer{Timeout: wrk.Limits.ConnectTimeout},
	}
	e.client = &http.Client{
		Timeout: wrk.Limits.RequestTimeout,
		Transport: &http.Transport{
			DialContext:         e.trackedDial,
			IdleConnTimeout:     wrk.Limits.IdleTimeout,
			MaxIdleConnsPerHost: 8,
		},
	}
	return e
}

// trackedDial dials a fresh upstream socket and charges it against the
// worker's ConnectionPool ledger; the returned conn releases the charge
// exactly once, on close, however the Transport ends up closing it.
func (e *Engine) trackedDial(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := e.dial.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	e.wrk.Pool.Track()
	return &pooledConn{Conn: conn, pool: e.wrk.Pool}, nil
}

// pooledConn releases its ConnectionPool charge exactly once regardless
// of how many times Close is called.
type pooledConn struct {
	net.Conn
	pool     *worker.ConnectionPool
	released int32
}

func (c *pooledConn) Close() error {
	if atomic.CompareAndSwapInt32(&c.released, 0, 1) {
		c.pool.Release()
	}
	return c.Conn.Close()
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.wrk.Metrics.IncRequests()

	rs := e.table.Match(r)
	if rs == nil {
		http.Error(w, "no matching route", bferr.KindRouting.Status())
		return
	}

	body, err := readLimitedBody(r, rs.route)
	if err != nil {
		http.Error(w, "request body too large to buffer for retry", http.StatusRequestEntityTooLarge)
		return
	}

	var (
		lastResp *http.Response
		lastErr  error
		tried    string
	)

	attempts := 1
	if rs.route.Retry != nil {
		attempts = rs.route.Retry.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
	}

	for attempt := 0; attempt < attempts; attempt++ {
		target, ok := rs.resolveSticky(r)
		if attempt > 0 {
			target, ok = rs.selectTarget(tried)
		}
		if !ok {
			http.Error(w, "no healthy upstream target", http.StatusBadGateway)
			return
		}
		tried = target.ID

		rs.lb.incActive(target.ID)
		resp, rerr := e.forwardOnce(r, rs.route, target, body)
		rs.lb.decActive(target.ID)

		if rerr != nil {
			e.wrk.Metrics.IncConnectionErrors()
			lastErr = rerr
			if rs.route.Retry != nil && rs.route.Retry.RetryOnConnectError && body.replayable && attempt+1 < attempts {
				continue
			}
			break
		}

		if rs.route.Retry != nil && rs.route.Retry.statusRetryable(resp.StatusCode) &&
			body.replayable && rs.route.Retry.methodAllowed(r.Method) && attempt+1 < attempts {
			_ = resp.Body.Close()
			continue
		}

		lastResp = resp
		lastErr = nil
		break
	}

	if lastErr != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer lastResp.Body.Close()

	writeResponse(w, lastResp, e.wrk)
}

// bufferedBody captures a request body up to a cap so it can be replayed
// across retry attempts; per spec §4.4 an unbuffered body disables retry
// even if the policy allows it.
type bufferedBody struct {
	data       []byte
	replayable bool
}

func readLimitedBody(r *http.Request, route Route) (bufferedBody, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return bufferedBody{replayable: true}, nil
	}

	limit := int64(0)
	if route.Retry != nil {
		limit = route.Retry.BufferBodyMaxBytes
	}
	if limit <= 0 {
		// No buffering configured: body is consumed once, not replayable.
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return bufferedBody{}, err
		}
		return bufferedBody{data: data, replayable: false}, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return bufferedBody{}, err
	}
	if int64(len(data)) > limit {
		return bufferedBody{}, bferr.New(bferr.KindProtocol, "request body exceeds retry buffer cap")
	}
	return bufferedBody{data: data, replayable: true}, nil
}

func (e *Engine) forwardOnce(r *http.Request, route Route, target Target, body bufferedBody) (*http.Response, error) {
	upstreamURL, err := buildUpstreamURL(target, r, route.StripPathPrefix)
	if err != nil {
		return nil, bferr.Wrap(bferr.KindProtocol, "invalid upstream target", err)
	}

	var reqBody io.Reader
	if len(body.data) > 0 {
		reqBody = bytes.NewReader(body.data)
	}

	// The connect timeout is carried by e.dial; the request context stays
	// live after forwardOnce returns so writeResponse can stream the body.
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), reqBody)
	if err != nil {
		return nil, bferr.Wrap(bferr.KindProtocol, "building upstream request", err)
	}
	outReq.Header = r.Header.Clone()
	httputil.StripReverseInbound(outReq.Header)

	if route.PreserveHost {
		outReq.Host = r.Host
	} else {
		outReq.Host = upstreamURL.Host
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	httputil.SetForwardedHeaders(outReq.Header, clientIP(r), scheme, r.Host)

	resp, err := e.client.Do(outReq)
	if err != nil {
		return nil, bferr.Wrap(bferr.KindTransport, "upstream request failed", err)
	}
	return resp, nil
}

func buildUpstreamURL(target Target, r *http.Request, stripPrefix string) (*url.URL, error) {
	base, err := url.Parse(target.URL)
	if err != nil {
		return nil, err
	}

	p := r.URL.Path
	if stripPrefix != "" {
		p = strings.TrimPrefix(p, stripPrefix)
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
	}

	out := *base
	out.Path = strings.TrimSuffix(base.Path, "/") + p
	out.RawQuery = r.URL.RawQuery
	return &out, nil
}

func writeResponse(w http.ResponseWriter, resp *http.Response, wrk *worker.Worker) {
	httputil.StripHopByHop(resp.Header)
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("X-Proxy-Server", proxyServerIdent)
	w.WriteHeader(resp.StatusCode)

	n, _ := io.Copy(w, resp.Body)
	wrk.Metrics.AddResponseBytes(n)
}
