// Package staticfiles implements the static file engine: multi-mount
// resolution, SPA fallback, directory listing, MIME detection and
// cache-control policy (spec §4.5), generalizing nabbar-golib/static's
// purpose-built HTTP static handler (its gin.HandlerFunc-based Static
// type, HeadersConfig cache/ETag/content-type policy and
// PathSecurityConfig traversal guard, documented by its own
// headers_test.go/pathsecurity_test.go) onto the plain net/http.Handler
// style the rest of this module is built on, since this engine is
// dispatched from the same listener as the forward/reverse engines
// rather than mounted on a gin.Engine.
package staticfiles

import (
	"sort"
	"strings"
)

// Mount binds a URL prefix to a root directory, with options that
// inherit from the parent static config when unset (spec glossary:
// "Mount").
type Mount struct {
	URLPrefix              string            `mapstructure:"url_prefix" json:"url_prefix" validate:"required"`
	RootDir                string            `mapstructure:"root_dir" json:"root_dir" validate:"required"`
	EnableDirectoryListing *bool             `mapstructure:"enable_directory_listing" json:"enable_directory_listing"`
	IndexFiles             []string          `mapstructure:"index_files" json:"index_files"`
	SPAMode                *bool             `mapstructure:"spa_mode" json:"spa_mode"`
	SPAFallbackFile        string            `mapstructure:"spa_fallback_file" json:"spa_fallback_file"`
	NoCacheFiles           []string          `mapstructure:"no_cache_files" json:"no_cache_files"`
	CacheMillisecs         *int64            `mapstructure:"cache_millisecs" json:"cache_millisecs"`
	AllowedMimeTypes       []string          `mapstructure:"allowed_mime_types" json:"allowed_mime_types"`
	DenyMimeTypes          []string          `mapstructure:"deny_mime_types" json:"deny_mime_types"`
	CustomMimeTypes        map[string]string `mapstructure:"custom_mime_types" json:"custom_mime_types"`
}

// ResolvedStaticMount is a Mount's options fully materialized against the
// parent StaticConfig defaults (spec glossary: "ResolvedStaticMount").
type ResolvedStaticMount struct {
	URLPrefix              string
	RootDir                string
	EnableDirectoryListing bool
	IndexFiles             []string
	SPAMode                bool
	SPAFallbackFile        string
	NoCacheFiles           []string
	CacheSeconds           int64
	AllowedMimeTypes       []string
	DenyMimeTypes          []string
	CustomMimeTypes        map[string]string
}

// StaticConfig is the parent block mounts inherit unset options from.
type StaticConfig struct {
	Mounts                 []Mount           `mapstructure:"mounts" json:"mounts" validate:"omitempty,dive"`
	EnableDirectoryListing bool              `mapstructure:"enable_directory_listing" json:"enable_directory_listing"`
	IndexFiles             []string          `mapstructure:"index_files" json:"index_files"`
	SPAMode                bool              `mapstructure:"spa_mode" json:"spa_mode"`
	SPAFallbackFile        string            `mapstructure:"spa_fallback_file" json:"spa_fallback_file"`
	NoCacheFiles           []string          `mapstructure:"no_cache_files" json:"no_cache_files"`
	CacheMillisecs         int64             `mapstructure:"cache_millisecs" json:"cache_millisecs"`
	AllowedMimeTypes       []string          `mapstructure:"allowed_mime_types" json:"allowed_mime_types"`
	DenyMimeTypes          []string          `mapstructure:"deny_mime_types" json:"deny_mime_types"`
	CustomMimeTypes        map[string]string `mapstructure:"custom_mime_types" json:"custom_mime_types"`
}

func resolve(m Mount, parent StaticConfig) ResolvedStaticMount {
	r := ResolvedStaticMount{
		URLPrefix:              m.URLPrefix,
		RootDir:                m.RootDir,
		EnableDirectoryListing: parent.EnableDirectoryListing,
		IndexFiles:             parent.IndexFiles,
		SPAMode:                parent.SPAMode,
		SPAFallbackFile:        parent.SPAFallbackFile,
		NoCacheFiles:           parent.NoCacheFiles,
		CacheSeconds:           parent.CacheMillisecs,
		AllowedMimeTypes:       parent.AllowedMimeTypes,
		DenyMimeTypes:          parent.DenyMimeTypes,
		CustomMimeTypes:        parent.CustomMimeTypes,
	}
	if m.EnableDirectoryListing != nil {
		r.EnableDirectoryListing = *m.EnableDirectoryListing
	}
	if len(m.IndexFiles) > 0 {
		r.IndexFiles = m.IndexFiles
	}
	if m.SPAMode != nil {
		r.SPAMode = *m.SPAMode
	}
	if m.SPAFallbackFile != "" {
		r.SPAFallbackFile = m.SPAFallbackFile
	}
	if len(m.NoCacheFiles) > 0 {
		r.NoCacheFiles = m.NoCacheFiles
	}
	if m.CacheMillisecs != nil {
		r.CacheSeconds = *m.CacheMillisecs
	}
	if len(m.AllowedMimeTypes) > 0 {
		r.AllowedMimeTypes = m.AllowedMimeTypes
	}
	if len(m.DenyMimeTypes) > 0 {
		r.DenyMimeTypes = m.DenyMimeTypes
	}
	if len(m.CustomMimeTypes) > 0 {
		r.CustomMimeTypes = m.CustomMimeTypes
	}
	if len(r.IndexFiles) == 0 {
		r.IndexFiles = []string{"index.html"}
	}
	if r.SPAFallbackFile == "" {
		r.SPAFallbackFile = "index.html"
	}
	return r
}

// Table is the frozen, longest-prefix-first set of resolved mounts.
type Table struct {
	mounts []ResolvedStaticMount
}

// NewTable resolves every Mount against parent and sorts them by
// URL-prefix length descending, so the first prefix match is the
// longest (spec glossary: "sorted by url-prefix length descending").
func NewTable(cfg StaticConfig) *Table {
	resolved := make([]ResolvedStaticMount, 0, len(cfg.Mounts))
	for _, m := range cfg.Mounts {
		resolved = append(resolved, resolve(m, cfg))
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		return len(resolved[i].URLPrefix) > len(resolved[j].URLPrefix)
	})
	return &Table{mounts: resolved}
}

// Resolve finds the longest-prefix mount matching path, and the
// path remainder relative to the mount's root.
func (t *Table) Resolve(path string) (ResolvedStaticMount, string, bool) {
	for _, m := range t.mounts {
		if strings.HasPrefix(path, m.URLPrefix) {
			rel := strings.TrimPrefix(path, m.URLPrefix)
			if !strings.HasPrefix(rel, "/") {
				rel = "/" + rel
			}
			return m, rel, true
		}
	}
	return ResolvedStaticMount{}, "", false
}

// assetExtensions is consulted by SPA fallback: a missing path with one
// of these extensions is a genuine 404, not a route the app owns.
var assetExtensions = map[string]struct{}{
	".js": {}, ".css": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".svg": {}, ".ico": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".pdf": {}, ".zip": {}, ".json": {}, ".xml": {}, ".mp4": {}, ".webm": {},
	".mp3": {}, ".wav": {},
}

func isAssetPath(p string) bool {
	ext := strings.ToLower(extOf(p))
	_, ok := assetExtensions[ext]
	return ok
}

func extOf(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i:]
	}
	return ""
}
