// Package files serves the public directory tree: pages/, images/ and any
// other asset directories.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path escapes public root")

type Root struct {
	dir string
}

func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("public root %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("public root %s is not a directory", dir)
	}
	return &Root{dir: abs}, nil
}

func (r *Root) Dir() string {
	return r.dir
}

// resolve joins directory and resource under the root and refuses anything
// that would land outside it.
func (r *Root) resolve(directory, resource string) (string, error) {
	if strings.ContainsRune(resource, '/') || strings.ContainsRune(resource, '\\') {
		return "", ErrOutsideRoot
	}
	p := filepath.Join(r.dir, filepath.FromSlash(directory), resource)
	rel, err := filepath.Rel(r.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return p, nil
}

// Exists reports whether directory/resource is a regular file under the root.
func (r *Root) Exists(directory, resource string) bool {
	p, err := r.resolve(directory, resource)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (r *Root) Read(directory, resource string) ([]byte, error) {
	p, err := r.resolve(directory, resource)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Write stores data as directory/resource, creating the directory if needed.
func (r *Root) Write(directory, resource string, data []byte) error {
	p, err := r.resolve(directory, resource)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
