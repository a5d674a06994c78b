// Package assets resolves request paths against the bundled, read-only asset
// tree that the embedded content is loaded from.
//
// Resolution is a pure lookup: the same path always maps to the same resource
// and content type, and no path may escape the bundle root.
package assets

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned for paths that do not name a file inside the bundle.
var ErrNotFound = errors.New("asset not found")

// Resource is a resolved bundled file.
type Resource struct {
	Path        string
	ContentType string
	Size        int64
	ModTime     time.Time

	bundle fs.FS
}

// Open returns a reader over the resource body. Callers must close it.
func (r *Resource) Open() (io.ReadCloser, error) {
	f, err := r.bundle.Open(r.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.Path, err)
	}
	return f, nil
}

// Resolver maps request paths onto an immutable bundle.
type Resolver struct {
	bundle     fs.FS
	defaultDoc string
	root       *os.Root
}

// NewResolver returns a Resolver over bundle. An empty or root request path
// resolves to defaultDoc.
func NewResolver(bundle fs.FS, defaultDoc string) *Resolver {
	if defaultDoc == "" {
		defaultDoc = "index.html"
	}
	return &Resolver{bundle: bundle, defaultDoc: strings.TrimPrefix(defaultDoc, "/")}
}

// OpenDir returns a Resolver over the directory dir. Lookups stay inside dir
// even through symbolic links. Close releases the directory.
func OpenDir(dir, defaultDoc string) (*Resolver, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open asset root: %w", err)
	}
	r := NewResolver(root.FS(), defaultDoc)
	r.root = root
	return r, nil
}

// Close releases the directory opened by OpenDir.
func (r *Resolver) Close() error {
	if r.root == nil {
		return nil
	}
	return r.root.Close()
}

// Normalize turns a raw request path into a bundle-relative path. It strips a
// single leading separator and maps the root to the default document. The
// second result is false when the path would leave the bundle.
func (r *Resolver) Normalize(requestPath string) (string, bool) {
	p := strings.TrimPrefix(requestPath, "/")
	if p == "" || p == "/" {
		return r.defaultDoc, true
	}
	if strings.ContainsAny(p, "\\\x00") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	clean := path.Clean(p)
	if !fs.ValidPath(clean) || clean == "." {
		return "", false
	}
	return clean, true
}

// Resolve looks requestPath up in the bundle.
func (r *Resolver) Resolve(requestPath string) (*Resource, error) {
	name, ok := r.Normalize(requestPath)
	if !ok {
		return nil, fmt.Errorf("%q escapes bundle: %w", requestPath, ErrNotFound)
	}
	info, err := fs.Stat(r.bundle, name)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, ErrNotFound)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", name, ErrNotFound)
	}
	return &Resource{
		Path:        name,
		ContentType: ContentType(name),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		bundle:      r.bundle,
	}, nil
}
