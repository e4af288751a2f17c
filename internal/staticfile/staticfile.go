// Package staticfile is the static-file mapper collaborator (spec section
// 6): it memory-maps a file under the server's resource root and returns the
// region + length, or a fallback error if the file can't be opened.
//
// Mappings are not cached: Map maps the file afresh on every call. An
// optional fsnotify watcher (internal/staticfile/watch.go), enabled with
// -watchStatic and off by default, reports changes under the root to a
// callback; it does not affect what Map returns.
package staticfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrUnsafePath is returned when the requested path would escape the
// configured resource root (e.g. via "..").
var ErrUnsafePath = errors.New("staticfile: path escapes resource root")

// Mapping is a memory-mapped region backing one served file. Unmap is
// idempotent.
type Mapping struct {
	mu   sync.Mutex
	data []byte
}

// Len reports the mapped region's length, 0 once unmapped.
func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Bytes exposes the mapped region directly for the gather-write path.
func (m *Mapping) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Unmap releases the mapping. Safe to call more than once.
func (m *Mapping) Unmap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return
	}
	_ = unix.Munmap(m.data)
	m.data = nil
}

// Map memory-maps root+path for reading. path must already have been
// cleaned to a leading "/" by the request parser; Map re-validates it stays
// within root.
func Map(root, path string) (*Mapping, error) {
	full := filepath.Join(root, path)
	if !strings.HasPrefix(full, filepath.Clean(root)+string(filepath.Separator)) {
		return nil, ErrUnsafePath
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir() || st.Size() == 0 {
		return nil, os.ErrNotExist
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data}, nil
}
