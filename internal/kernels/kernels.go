// Package kernels provides kernel source text by program name.
package kernels

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/fxnlabs/kernel-cache/internal/errdefs"
)

// embedded holds the OpenCL sources shipped with the binary.
//
//go:embed src/*.cl
var embedded embed.FS

// Provider looks up kernel source text by program name.
type Provider interface {
	Source(name string) (string, error)
}

// FS serves sources from the root of an fs.FS.
type FS struct {
	fsys fs.FS
}

// NewFS returns a Provider reading from fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Embedded returns the Provider for the sources compiled into the binary.
func Embedded() *FS {
	sub, err := fs.Sub(embedded, "src")
	if err != nil {
		// "src" is a constant path into the embedded tree.
		panic(err)
	}
	return NewFS(sub)
}

// Dir returns a Provider reading sources from a directory on disk.
func Dir(dir string) *FS {
	return NewFS(os.DirFS(dir))
}

// Source returns the text of the named program.
func (p *FS) Source(name string) (string, error) {
	if !fs.ValidPath(name) || name == "." {
		return "", errdefs.NotFoundf("kernel source", "invalid program name %q", name)
	}
	data, err := fs.ReadFile(p.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errdefs.E(errdefs.NotFound, "kernel source", name, err)
		}
		return "", errdefs.E(errdefs.IO, "kernel source", name, err)
	}
	return string(data), nil
}

// Names lists the .cl programs available from p.
func (p *FS) Names() ([]string, error) {
	var names []string
	err := fs.WalkDir(p.fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Ext(name) == ".cl" {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.E(errdefs.IO, "list kernel sources", "", err)
	}
	sort.Strings(names)
	return names, nil
}
