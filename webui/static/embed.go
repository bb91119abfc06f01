// Package static holds the web UI page and its assets, embedded into the
// binary.
package static

import (
	"embed"
	"io/fs"
)

//go:embed index.html css js
var StaticFS embed.FS

// GetFS returns the embedded assets.
func GetFS() fs.FS {
	return StaticFS
}

// ReadFile reads one embedded asset.
func ReadFile(name string) ([]byte, error) {
	return StaticFS.ReadFile(name)
}
