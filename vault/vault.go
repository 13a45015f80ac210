// Package vault provides repository file access for documents and their assets.
// Paths are slash separated and relative to the vault root.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound                = errors.New("file not found")
	ErrInvalidPath             = errors.New("invalid vault path")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrInvalidDocumentLocation = errors.New("document must live inside a folder")
)

// Vault is the file access collaborator used by the pipeline.
type Vault interface {
	Read(ctx context.Context, p string) (string, error)
	ReadBinary(ctx context.Context, p string) ([]byte, error)
	Write(ctx context.Context, p string, data []byte) error
	Rename(ctx context.Context, from, to string) error
	Exists(ctx context.Context, p string) (bool, error)
	MkdirAll(ctx context.Context, p string) error
	// ResolveLink maps a link-like reference (usually a bare file name) to a
	// concrete file, searching from the folder of sourcePath first.
	ResolveLink(ctx context.Context, link, sourcePath string) (string, error)
}

// FileSystem implements Vault on a local directory.
type FileSystem struct {
	root string
}

// NewFileSystem creates a vault rooted at dir.
func NewFileSystem(dir string) (*FileSystem, error) {
	if dir == "" {
		return nil, fmt.Errorf("vault root required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	return &FileSystem{root: abs}, nil
}

// Root returns the absolute vault directory.
func (v *FileSystem) Root() string { return v.root }

// Rel converts an OS path inside the vault to a vault path.
func (v *FileSystem) Rel(osPath string) (string, error) {
	abs, err := filepath.Abs(osPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(v.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, osPath, v.root)
	}
	return filepath.ToSlash(rel), nil
}

func (v *FileSystem) Read(ctx context.Context, p string) (string, error) {
	data, err := v.ReadBinary(ctx, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (v *FileSystem) ReadBinary(ctx context.Context, p string) ([]byte, error) {
	full, err := v.fullPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

func (v *FileSystem) Write(ctx context.Context, p string, data []byte) error {
	full, err := v.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := full + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (v *FileSystem) Rename(ctx context.Context, from, to string) error {
	src, err := v.fullPath(from)
	if err != nil {
		return err
	}
	dst, err := v.fullPath(to)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return mapError(err)
	}
	return nil
}

func (v *FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	full, err := v.fullPath(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, mapError(err)
	}
	return true, nil
}

func (v *FileSystem) MkdirAll(ctx context.Context, p string) error {
	full, err := v.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return mapError(err)
	}
	return nil
}

func (v *FileSystem) ResolveLink(ctx context.Context, link, sourcePath string) (string, error) {
	link = strings.TrimSpace(link)
	if i := strings.Index(link, "|"); i >= 0 {
		link = link[:i]
	}
	if link == "" {
		return "", ErrNotFound
	}

	candidates := []string{path.Join(path.Dir(sourcePath), link), strings.TrimPrefix(link, "/")}
	for _, c := range candidates {
		if ok, _ := v.Exists(ctx, c); ok {
			if full, err := v.fullPath(c); err == nil {
				if info, err := os.Stat(full); err == nil && !info.IsDir() {
					return path.Clean(c), nil
				}
			}
		}
	}

	// Fall back to a vault-wide search by base name, closest to the source folder first.
	base := path.Base(link)
	var matches []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == base {
			if rel, err := v.Rel(p); err == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, link)
	}
	dir := path.Dir(sourcePath)
	sort.SliceStable(matches, func(i, j int) bool {
		return distance(dir, matches[i]) < distance(dir, matches[j])
	})
	return matches[0], nil
}

func (v *FileSystem) fullPath(p string) (string, error) {
	cleaned := path.Clean("/" + filepath.ToSlash(p))
	full := filepath.Join(v.root, filepath.FromSlash(cleaned))
	if full != v.root && !strings.HasPrefix(full, v.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	return full, nil
}

func distance(dir, candidate string) int {
	if path.Dir(candidate) == dir {
		return 0
	}
	if strings.HasPrefix(candidate, dir+"/") {
		return strings.Count(strings.TrimPrefix(candidate, dir+"/"), "/")
	}
	return 1 + strings.Count(candidate, "/")
}

func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}
