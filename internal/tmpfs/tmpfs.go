// Package tmpfs provides scoped staging resources for a single compilation:
// a temporary directory removed recursively on Close and a temporary file
// removed on Close.
package tmpfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxnlabs/kernel-cache/internal/errdefs"
)

// Dir is a temporary directory owned by one compilation.
type Dir struct {
	Path string

	once sync.Once
	err  error
}

// NewDir creates a unique directory under root. An empty root means
// os.TempDir().
func NewDir(root, name string) (*Dir, error) {
	if root == "" {
		root = os.TempDir()
	}
	path, err := os.MkdirTemp(root, "kcache-"+sanitize(name)+"-")
	if err != nil {
		return nil, errdefs.E(errdefs.Create, "create staging dir", root, err)
	}
	return &Dir{Path: path}, nil
}

// Close removes the directory and everything in it. Later calls return
// the result of the first.
func (d *Dir) Close() error {
	d.once.Do(func() {
		if err := os.RemoveAll(d.Path); err != nil {
			d.err = errdefs.E(errdefs.IO, "remove staging dir", d.Path, err)
		}
	})
	return d.err
}

// File is a temporary file owned by one compilation.
type File struct {
	Path string

	once sync.Once
	err  error
}

// NewFile creates a file in dir named after name, salted with a per-call
// token and the current Unix time so concurrent compilations of the same
// source never share a path.
func NewFile(dir, name string) (*File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, StagedName(name))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errdefs.E(errdefs.Create, "create staging file", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, errdefs.E(errdefs.Create, "create staging file", path, err)
	}
	return &File{Path: path}, nil
}

// Write replaces the file content.
func (f *File) Write(content string) error {
	if err := os.WriteFile(f.Path, []byte(content), 0o600); err != nil {
		return errdefs.E(errdefs.IO, "write source", f.Path, err)
	}
	return nil
}

// Close removes the file. A file that is already gone is not an error.
func (f *File) Close() error {
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = errdefs.E(errdefs.IO, "remove staging file", f.Path, err)
		}
	})
	return f.err
}

// StagedName returns "<name>.<token>.<unix-seconds>".
func StagedName(name string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return sanitize(name) + "." + token + "." + strconv.FormatInt(time.Now().Unix(), 10)
}

// Release closes r from a deferred call. If *errp is nil a close failure
// becomes the function's error; otherwise the original error stands and
// the close failure is only logged.
func Release(r io.Closer, errp *error, log *zap.Logger) {
	cerr := r.Close()
	if cerr == nil {
		return
	}
	if *errp == nil {
		*errp = cerr
		return
	}
	if log != nil {
		log.Warn("cleanup failed while unwinding", zap.Error(cerr), zap.NamedError("cause", *errp))
	}
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
