package webui

import (
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"photomaker/webui/static"
)

// StaticAssetHandler serves the embedded page assets under a URL prefix.
type StaticAssetHandler struct {
	fs          fs.FS
	prefix      string
	enableCache bool
}

func NewStaticAssetHandler(prefix string, enableCache bool) *StaticAssetHandler {
	return &StaticAssetHandler{fs: static.GetFS(), prefix: prefix, enableCache: enableCache}
}

func (h *StaticAssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(r.URL.Path, h.prefix)), "/")
	if name == "" || name == "." {
		http.NotFound(w, r)
		return
	}
	data, err := fs.ReadFile(h.fs, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	if h.enableCache {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Write(data)
}

// ServeIndex serves the page itself.
func (h *StaticAssetHandler) ServeIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data, err := fs.ReadFile(h.fs, "index.html")
	if err != nil {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// imageExts are the only files served from disk directories.
var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// DirImageHandler serves images from a single directory. Subdirectories,
// dot files and non-image files are not reachable.
type DirImageHandler struct {
	dir    string
	prefix string
}

func NewDirImageHandler(dir, prefix string) *DirImageHandler {
	return &DirImageHandler{dir: dir, prefix: prefix}
}

func (h *DirImageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, h.prefix)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") ||
		!imageExts[strings.ToLower(filepath.Ext(name))] {
		http.NotFound(w, r)
		return
	}

	full := filepath.Join(h.dir, name)
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, full)
}

// fileURL maps a file inside dir to its URL under prefix, or "" when the
// file is elsewhere.
func fileURL(prefix, dir, file string) string {
	if filepath.Clean(filepath.Dir(file)) != filepath.Clean(dir) {
		return ""
	}
	return imageURL(prefix, filepath.Base(file))
}

// imageURL escapes name so prompts with '%', '#' or '?' still link.
func imageURL(prefix, name string) string {
	return prefix + url.PathEscape(name)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}
