package staticfiles

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nabbar/bifrost/internal/bferr"
	"github.com/nabbar/bifrost/internal/logx"
	"github.com/nabbar/bifrost/internal/worker"
)

// streamThreshold is the size above which a file is streamed directly
// from disk instead of buffered into memory first (spec §4.5).
const streamThreshold = 1 << 20 // 1 MiB

// Engine serves files under a frozen Table of mounts.
type Engine struct {
	table *Table
	wrk   *worker.Worker
	log   *logx.Logger
}

func NewEngine(table *Table, wrk *worker.Worker, log *logx.Logger) *Engine {
	return &Engine{table: table, wrk: wrk, log: log}
}

// Table exposes the frozen mount table for callers (the listener's
// dispatch) that need to test for a match before committing to this
// engine over another.
func (e *Engine) Table() *Table {
	return e.table
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.wrk.Metrics.IncRequests()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mount, rel, ok := e.table.Resolve(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	fsPath, safe := resolveSafePath(mount.RootDir, rel)
	if !safe {
		http.Error(w, "path escapes mount root", bferr.KindPathSafety.Status())
		return
	}

	e.serveResolved(w, r, mount, fsPath, rel)
}

// resolveSafePath joins root and rel, then verifies the cleaned absolute
// result remains a descendant of root (spec §4.5 step 3, §8 testable
// property #6).
func resolveSafePath(root, rel string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	joined := filepath.Join(absRoot, rel)
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", false
	}
	return joined, true
}

func (e *Engine) serveResolved(w http.ResponseWriter, r *http.Request, mount ResolvedStaticMount, fsPath, rel string) {
	info, err := os.Stat(fsPath)
	if err != nil {
		e.serveMissing(w, r, mount, rel)
		return
	}

	if info.IsDir() {
		e.serveDirectory(w, r, mount, fsPath, rel)
		return
	}

	e.serveFile(w, r, mount, fsPath, info, false)
}

func (e *Engine) serveMissing(w http.ResponseWriter, r *http.Request, mount ResolvedStaticMount, rel string) {
	if mount.SPAMode && !isAssetPath(rel) {
		e.serveSPAFallback(w, r, mount)
		return
	}
	http.NotFound(w, r)
}

func (e *Engine) serveDirectory(w http.ResponseWriter, r *http.Request, mount ResolvedStaticMount, dirPath, rel string) {
	for _, idx := range mount.IndexFiles {
		p := filepath.Join(dirPath, idx)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			// Any index file resolved under spa_mode must never cache,
			// not only the one matching spa_fallback_file by name.
			e.serveFile(w, r, mount, p, info, mount.SPAMode)
			return
		}
	}

	if mount.EnableDirectoryListing {
		e.serveDirectoryListing(w, dirPath, rel)
		return
	}

	if mount.SPAMode {
		e.serveSPAFallback(w, r, mount)
		return
	}

	http.NotFound(w, r)
}

func (e *Engine) serveSPAFallback(w http.ResponseWriter, r *http.Request, mount ResolvedStaticMount) {
	p := filepath.Join(mount.RootDir, mount.SPAFallbackFile)
	info, err := os.Stat(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	e.serveFile(w, r, mount, p, info, true)
}

func (e *Engine) serveFile(w http.ResponseWriter, r *http.Request, mount ResolvedStaticMount, path string, info os.FileInfo, spaNoCache bool) {
	ct := contentTypeFor(path, mount.CustomMimeTypes)
	if !mimeAllowed(ct, mount.AllowedMimeTypes, mount.DenyMimeTypes) {
		http.Error(w, "content type not allowed", http.StatusForbidden)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	etag := etagFor(info)

	h := w.Header()
	h.Set("Content-Type", ct)
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
	h.Set("ETag", etag)
	h.Set("Cache-Control", cacheControlFor(mount, filepath.Base(path), spaNoCache))

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodHead {
		h.Set("Content-Length", fmt.Sprintf("%d", info.Size()))
		w.WriteHeader(http.StatusOK)
		return
	}

	e.wrk.Metrics.IncFilesServed()

	if info.Size() > streamThreshold {
		e.wrk.Metrics.IncFilesStreamed()
		w.WriteHeader(http.StatusOK)
		n, _ := io.Copy(w, f)
		e.wrk.Metrics.AddResponseBytes(n)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "failed reading file", http.StatusInternalServerError)
		return
	}
	h.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	n, _ := io.Copy(w, bytes.NewReader(data))
	e.wrk.Metrics.AddResponseBytes(n)
}

// cacheControlFor implements spec §4.5's precedence: the SPA fallback
// file and any index file resolved under spa_mode always get no-cache
// (callers pass spaNoCache for both cases, not just a filename match
// against spa_fallback_file); else a no_cache_files glob match; else the
// mount's public max-age.
func cacheControlFor(mount ResolvedStaticMount, filename string, spaNoCache bool) string {
	if spaNoCache {
		return "no-cache, no-store, must-revalidate"
	}
	for _, pat := range mount.NoCacheFiles {
		if globMatchCaseInsensitive(pat, filename) {
			return "no-cache, no-store, must-revalidate"
		}
	}
	return fmt.Sprintf("public, max-age=%d", mount.CacheSeconds)
}

// etagFor derives a weak identifier from size and modification time,
// cheap enough to recompute per request (nabbar-golib/static's ETag
// support, per headers_test.go's "ETag Support" cases: stable across
// repeated requests for an unchanged file, and used for conditional GET).
func etagFor(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().UnixNano())
}

// etagMatches reports whether etag appears in an If-None-Match header's
// comma-separated list, per headers_test.go's 304-on-match /
// 200-on-mismatch cases.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, part := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimSpace(part) == etag {
			return true
		}
	}
	return false
}

// globMatchCaseInsensitive matches '*' against any run of characters
// except '/', case-insensitively, per spec §4.5.
func globMatchCaseInsensitive(pattern, name string) bool {
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

// serveDirectoryListing renders a minimal HTML index. Directory listing
// is CPU-bound file-tree I/O only, no upstream suspension point; it runs
// synchronously on the request goroutine like the rest of net/http's
// handler model, satisfying spec §4.5's "blocking-friendly execution
// context" requirement without a second executor.
func (e *Engine) serveDirectoryListing(w http.ResponseWriter, dirPath, rel string) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		http.Error(w, "failed reading directory", http.StatusInternalServerError)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Index of ")
	b.WriteString(html.EscapeString(rel))
	b.WriteString("</title></head><body><h1>Index of ")
	b.WriteString(html.EscapeString(rel))
	b.WriteString("</h1><ul>")
	if rel != "/" {
		b.WriteString(`<li><a href="../">../</a></li>`)
	}
	for _, ent := range entries {
		name := ent.Name()
		href := name
		if ent.IsDir() {
			href += "/"
		}
		b.WriteString(`<li><a href="`)
		b.WriteString(html.EscapeString(href))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(href))
		b.WriteString("</a></li>")
	}
	b.WriteString("</ul></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, b.String())
}
