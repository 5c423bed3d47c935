// Package httputil holds header-hygiene helpers shared by the forward and
// reverse engines: hop-by-hop stripping and the X-Forwarded-* family.
package httputil

import (
	"net/http"
	"strings"
)

// hopByHop lists the headers stripped both request-inbound-to-upstream
// and response-upstream-to-client, per the wire protocol section.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes the fixed hop-by-hop set plus any header named in
// the inbound Connection header's value, mutating h in place.
func StripHopByHop(h http.Header) {
	for _, extra := range connectionTokens(h) {
		h.Del(extra)
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// StripReverseInbound additionally strips Proxy-Connection, which only
// the reverse engine is required to drop from the inbound request.
func StripReverseInbound(h http.Header) {
	StripHopByHop(h)
	h.Del("Proxy-Connection")
}

func connectionTokens(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// AppendForwardedFor appends clientIP to any existing X-Forwarded-For
// chain, preserving it rather than overwriting it.
func AppendForwardedFor(h http.Header, clientIP string) {
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
}

// SetForwardedHeaders sets X-Forwarded-Proto, X-Forwarded-Host and
// appends X-Forwarded-For, as required of the reverse engine.
func SetForwardedHeaders(h http.Header, clientIP, scheme, host string) {
	AppendForwardedFor(h, clientIP)
	h.Set("X-Forwarded-Proto", scheme)
	h.Set("X-Forwarded-Host", host)
}
