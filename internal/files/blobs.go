package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

var ErrInvalidRef = errors.New("invalid payload reference")

// Blobs stores received and shared payloads as files in one directory.
// A payload reference is the file's name inside that directory.
type Blobs struct {
	fs  afero.Fs
	dir string

	// serializes name allocation
	mu sync.Mutex
}

// NewBlobs creates dir on fs if needed.
func NewBlobs(fs afero.Fs, dir string) (*Blobs, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create payload dir: %w", err)
	}
	return &Blobs{fs: fs, dir: dir}, nil
}

// Dir returns the directory payloads are written to.
func (b *Blobs) Dir() string {
	return b.dir
}

// Put writes data under a unique name derived from name and returns its
// reference.
func (b *Blobs) Put(name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref := b.uniqueName(SafeName(name))
	if err := afero.WriteFile(b.fs, filepath.Join(b.dir, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("write payload %s: %w", ref, err)
	}
	return ref, nil
}

func (b *Blobs) Open(ref string) (io.ReadCloser, error) {
	path, err := b.Path(ref)
	if err != nil {
		return nil, err
	}
	return b.fs.Open(path)
}

func (b *Blobs) Remove(ref string) error {
	path, err := b.Path(ref)
	if err != nil {
		return err
	}
	if err := b.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns where ref lives on the filesystem.
func (b *Blobs) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(b.dir, ref), nil
}

// Size reports the stored size of ref.
func (b *Blobs) Size(ref string) (int64, error) {
	path, err := b.Path(ref)
	if err != nil {
		return 0, err
	}
	info, err := b.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Refs lists every stored payload.
func (b *Blobs) Refs() ([]string, error) {
	entries, err := afero.ReadDir(b.fs, b.dir)
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	refs := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			refs = append(refs, e.Name())
		}
	}
	return refs, nil
}

// uniqueName returns name, or name with (1), (2), etc. appended before the
// extension if a payload by that name exists.
func (b *Blobs) uniqueName(name string) string {
	exists := func(n string) bool {
		ok, _ := afero.Exists(b.fs, filepath.Join(b.dir, n))
		return ok
	}
	if !exists(name) {
		return name
	}

	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, counter, ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

// SafeName strips directories and separators from a name chosen by a peer.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == ':' {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "payload"
	}
	return name
}
