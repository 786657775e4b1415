package webui

import (
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"dreamlines/webui/static"
)

// StaticAssetHandler serves the embedded css/ and js/ trees with MIME
// detection and cache headers. Templates are not reachable through it.
type StaticAssetHandler struct {
	fs          fs.FS
	cacheMaxAge int
}

// NewStaticAssetHandler serves the embedded assets. cacheMaxAge of 0
// disables caching, which development mode uses.
func NewStaticAssetHandler(cacheMaxAge int) *StaticAssetHandler {
	return &StaticAssetHandler{fs: static.GetFS(), cacheMaxAge: cacheMaxAge}
}

// ServeHTTP expects the /static prefix to be stripped already.
func (h *StaticAssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if !strings.HasPrefix(name, "css/") && !strings.HasPrefix(name, "js/") {
		http.NotFound(w, r)
		return
	}

	data, err := fs.ReadFile(h.fs, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", detectContentType(name))
	if h.cacheMaxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(h.cacheMaxAge))
	} else {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(data)
	}
}

// detectContentType maps a file extension to its MIME type.
func detectContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
