// Package storage implements the StorageBackend capability from spec.md §1
// against the local filesystem. A production deployment would back this
// with an object store; no such client appears anywhere in the example
// corpus, so a file:// backend is the grounded stand-in (see DESIGN.md).
package storage

import (
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/gordian-engine/rayworker/ray"
)

// FileBackend fetches objects from a directory tree rooted at Dir, keyed by
// path relative to Dir.
type FileBackend struct {
	Dir string
}

// Fetch implements ray.StorageBackend.
func (b FileBackend) Fetch(key string) ([]byte, error) {
	p := path.Join(b.Dir, key)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %q: %w", key, err)
	}
	return data, nil
}

// Open parses --storage-backend into a ray.StorageBackend. Only the file://
// scheme is implemented; other schemes are accepted syntactically but fail
// at open time, per spec.md §6's "non-empty storage backend URI" check
// leaving the actual backend choice to deployment.
func Open(uri string) (ray.StorageBackend, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("storage: parse %q: %w", uri, err)
	}
	switch u.Scheme {
	case "file", "":
		dir := u.Path
		if dir == "" {
			dir = u.Opaque
		}
		return FileBackend{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("storage: unsupported backend scheme %q", u.Scheme)
	}
}
