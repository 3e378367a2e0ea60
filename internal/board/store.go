package board

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrLayoutNotFound is returned when no layout is registered for a product code.
var ErrLayoutNotFound = errors.New("reference layout not found")

// Store is a read-only set of layouts keyed by product code. It is built once
// and safe for concurrent use.
type Store struct {
	layouts map[string]*ReferenceLayout
}

// NewStore builds a store from already-validated layouts. Duplicate codes are an error.
func NewStore(layouts ...*ReferenceLayout) (*Store, error) {
	s := &Store{layouts: make(map[string]*ReferenceLayout, len(layouts))}
	for _, l := range layouts {
		code := NormalizeCode(l.ProductCode)
		if _, dup := s.layouts[code]; dup {
			return nil, fmt.Errorf("duplicate layout for product %q", code)
		}
		s.layouts[code] = l
	}
	return s, nil
}

// LoadDir loads every .yaml, .yml and .json file in dir.
func LoadDir(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read layouts dir: %w", err)
	}

	var layouts []*ReferenceLayout
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		l, err := LoadFromFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, l)
	}
	return NewStore(layouts...)
}

// Get returns the layout for a product code. It never falls back to another product.
func (s *Store) Get(code string) (*ReferenceLayout, error) {
	l, ok := s.layouts[NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayoutNotFound, code)
	}
	return l, nil
}

// Codes returns all registered product codes, sorted.
func (s *Store) Codes() []string {
	codes := make([]string, 0, len(s.layouts))
	for code := range s.layouts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of layouts.
func (s *Store) Len() int {
	return len(s.layouts)
}
