package vault

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Vault used by tests and previews.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	// Reads counts ReadBinary and Read calls per path.
	Reads map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		files: map[string][]byte{},
		dirs:  map[string]bool{},
		Reads: map[string]int{},
	}
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Put stores a file, creating parent folders.
func (m *Memory) Put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	m.files[p] = data
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
}

// Files lists stored file paths in sorted order.
func (m *Memory) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Read(ctx context.Context, p string) (string, error) {
	data, err := m.ReadBinary(ctx, p)
	return string(data), err
}

func (m *Memory) ReadBinary(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	m.Reads[p]++
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Write(_ context.Context, p string, data []byte) error {
	m.Put(p, append([]byte(nil), data...))
	return nil
}

func (m *Memory) Rename(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, to = clean(from), clean(to)
	data, ok := m.files[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	delete(m.files, from)
	m.files[to] = data
	return nil
}

func (m *Memory) Exists(_ context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	_, isFile := m.files[p]
	return isFile || m.dirs[p], nil
}

func (m *Memory) MkdirAll(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := clean(p); dir != "." && dir != "" && dir != "/"; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

func (m *Memory) ResolveLink(_ context.Context, link, sourcePath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := strings.Index(link, "|"); i >= 0 {
		link = link[:i]
	}
	for _, c := range []string{clean(path.Join(path.Dir(sourcePath), link)), clean(link)} {
		if _, ok := m.files[c]; ok {
			return c, nil
		}
	}
	base := path.Base(link)
	var matches []string
	for p := range m.files {
		if path.Base(p) == base {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, link)
	}
	sort.Strings(matches)
	return matches[0], nil
}
