package sites

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed tables/*.yaml
var builtin embed.FS

// Registry holds the tables known to the process, keyed by Table.Key.
type Registry struct {
	tables map[string]*Table
}

// Builtin loads the tables shipped with the binary.
func Builtin() (*Registry, error) {
	return LoadFS(builtin, "tables")
}

// LoadFS loads every *.yaml table in dir of fsys.
func LoadFS(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read table dir %s: %w", dir, err)
	}

	r := &Registry{tables: make(map[string]*Table)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		t, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if _, dup := r.tables[t.Key]; dup {
			return nil, fmt.Errorf("%s: duplicate site key %q", e.Name(), t.Key)
		}
		r.tables[t.Key] = t
	}
	return r, nil
}

// Override replaces or adds tables from a directory on disk.
func (r *Registry) Override(dir string) error {
	extra, err := LoadFS(os.DirFS(dir), ".")
	if err != nil {
		return err
	}
	for k, t := range extra.tables {
		r.tables[k] = t
	}
	return nil
}

func (r *Registry) Get(key string) (*Table, error) {
	t, ok := r.tables[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, key)
	}
	return t, nil
}

// Keys returns the site keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.tables))
	for k := range r.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
