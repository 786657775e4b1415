// Package static bundles the page template and browser assets into the
// binary:
// - templates/index.html (gate screen, generator form, gallery, chat widget)
// - css/app.css
// - js/app.js (form submission, websocket progress, chat)
package static

import (
	"embed"
	"io/fs"
)

//go:embed templates css js
var StaticFS embed.FS

// GetFS returns the embedded filesystem.
func GetFS() fs.FS {
	return StaticFS
}

// MustGetSubFS returns the sub-filesystem rooted at dir. It panics if dir
// is not embedded.
func MustGetSubFS(dir string) fs.FS {
	sub, err := fs.Sub(StaticFS, dir)
	if err != nil {
		panic("static: failed to get sub-filesystem: " + err.Error())
	}
	return sub
}

// ReadFile reads one embedded file.
func ReadFile(name string) ([]byte, error) {
	return StaticFS.ReadFile(name)
}
