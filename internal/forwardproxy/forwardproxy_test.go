package forwardproxy

import (
	"bufio"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/worker"
)

func newTestEngine(cfg Config) *Engine {
	wrk := worker.New(worker.Forward, worker.DefaultLimits(worker.Forward), 4, nil)
	return NewEngine(cfg, wrk, logx.New(io.Discard, "error"))
}

// TestAbsoluteURIForwardsToUpstream covers spec §8 scenario 1: an
// absolute-URI GET must reach the upstream and relay its response
// unchanged, with no Proxy-Connection header leaking through.
func TestAbsoluteURIForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Hi"))
	}))
	defer upstream.Close()

	e := newTestEngine(Config{})

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	req.Header.Set("Proxy-Connection", "keep-alive")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hi", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Proxy-Connection"))
}

func TestAbsoluteURIFallsBackToHostHeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e := newTestEngine(Config{})

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Host = upstream.Listener.Addr().String()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAbsoluteURIMissingHostIsBadRequest(t *testing.T) {
	e := newTestEngine(Config{})

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Host = ""
	req.URL.Host = ""
	req.URL.Scheme = ""
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyAuthRequiredWithoutCredentials(t *testing.T) {
	e := newTestEngine(Config{Username: "alice", Password: "secret"})

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusProxyAuthRequired, rec.Code)
	assert.Equal(t, "Basic", rec.Header().Get("Proxy-Authenticate"))
}

func TestProxyAuthAcceptsValidCredentials(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	e := newTestEngine(Config{Username: "alice", Password: "secret"})

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	cred := base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	req.Header.Set("Proxy-Authorization", "Basic "+cred)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestConnectTunnelRelaysBytesBidirectionally covers spec §8 scenario 2:
// after the 200 Connection Established response, bytes written by the
// client must arrive verbatim at the upstream socket and vice versa.
func TestConnectTunnelRelaysBytesBidirectionally(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstreamLn.Close()

	upstreamGotBytes := make(chan []byte, 1)
	go func() {
		conn, aerr := upstreamLn.Accept()
		if aerr != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len("hello world"))
		_, _ = io.ReadFull(conn, buf)
		upstreamGotBytes <- buf
		_, _ = conn.Write([]byte("reply-bytes"))
	}()

	e := newTestEngine(Config{})
	handler := http.HandlerFunc(e.ServeHTTP)
	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer frontLn.Close()

	srv := &http.Server{Handler: handler}
	go srv.Serve(frontLn)
	defer srv.Close()

	clientConn, err := net.DialTimeout("tcp", frontLn.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	target := upstreamLn.Addr().String()
	_, err = clientConn.Write([]byte("CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = clientConn.Write([]byte("hello world"))
	require.NoError(t, err)

	select {
	case got := <-upstreamGotBytes:
		assert.Equal(t, "hello world", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received tunneled bytes")
	}

	reply := make([]byte, len("reply-bytes"))
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(reader, reply)
	require.NoError(t, err)
	assert.Equal(t, "reply-bytes", string(reply))
}

func TestRelayMatchesNoProxyStyle(t *testing.T) {
	assert.True(t, relayMatches("internal.example.com", "internal.example.com"))
	assert.True(t, relayMatches(".example.com", "api.example.com"))
	assert.True(t, relayMatches("*.example.com", "api.example.com"))
	assert.False(t, relayMatches("other.example.com", "api.example.com"))
}
