package http

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"path/filepath"
)

// StaticHandler serves dashboard assets from dir. Paths that do not name an
// existing file and carry no extension fall back to index.html so
// client-side routes resolve.
func StaticHandler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean("/" + r.URL.Path)
		f, err := root.Open(p)
		if err == nil {
			_ = f.Close()
			files.ServeHTTP(w, r)
			return
		}
		if errors.Is(err, fs.ErrNotExist) && path.Ext(p) == "" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		files.ServeHTTP(w, r)
	})
}
