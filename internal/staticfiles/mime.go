package staticfiles

import (
	"mime"
	"path/filepath"
	"strings"
)

// customMIME is the extension table consulted before falling back to the
// stdlib's built-in guess (spec §4.5 "Response Construction"). Lookups
// here and in a mount's custom_mime_types use only the final extension
// (filepath.Ext); multi-part keys such as ".tar.gz" never match.
var customMIME = map[string]string{
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".css":  "text/css",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".svg":  "image/svg+xml",
	".wasm": "application/wasm",
	".map":  "application/json",
}

var textlikeTypes = map[string]struct{}{
	"application/json": {},
	"application/xml":  {},
}

// contentTypeFor resolves the Content-Type for name, consulting mount's
// custom_mime_types (spec §4.5: "the custom MIME table") before the
// package-wide table and the stdlib guess, then appending
// "; charset=utf-8" for text/* and application/{json,xml}.
func contentTypeFor(name string, custom map[string]string) string {
	ext := strings.ToLower(filepath.Ext(name))

	ct, ok := custom[ext]
	if !ok {
		ct, ok = customMIME[ext]
	}
	if !ok {
		ct = mime.TypeByExtension(ext)
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}

	if strings.HasPrefix(ct, "text/") {
		return ct + "; charset=utf-8"
	}
	if _, ok := textlikeTypes[ct]; ok {
		return ct + "; charset=utf-8"
	}
	return ct
}

// mimeAllowed applies an allow/deny content-type policy (nabbar-golib/
// static's HeadersConfig.AllowedMimeTypes/DenyMimeTypes, per its
// headers_test.go "Content-Type Validation" cases): deny wins over
// allow, and an empty allow list means every type not explicitly denied
// passes.
func mimeAllowed(contentType string, allowed, denied []string) bool {
	base := contentType
	if idx := strings.IndexByte(base, ';'); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	for _, d := range denied {
		if strings.EqualFold(d, base) {
			return false
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, base) {
			return true
		}
	}
	return false
}
