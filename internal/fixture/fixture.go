// Package fixture provides read-only access to named request payloads and
// expected response documents.
//
// Fixtures live under two namespaces, requests/ and responses/, one JSON
// object per file. The file base name is the fixture's identity. Documents
// are parsed once when the store is opened and every read returns a fresh
// copy, so callers may mutate what they get back.
package fixture

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// Namespace separates request inputs from expected responses.
type Namespace string

const (
	Requests  Namespace = "requests"
	Responses Namespace = "responses"
)

// Namespaces lists every namespace in lookup order.
var Namespaces = []Namespace{Requests, Responses}

// ErrNotFound is returned when a fixture name is unknown.
var ErrNotFound = errors.New("fixture: not found")

//go:embed data
var embedded embed.FS

// Store is an immutable fixture set. Safe for concurrent use.
type Store struct {
	docs map[Namespace]map[string][]byte
}

// Load reads every *.json file under requests/ and responses/ of fsys. Each
// file must hold a JSON object.
func Load(fsys fs.FS) (*Store, error) {
	s := &Store{docs: make(map[Namespace]map[string][]byte, len(Namespaces))}

	for _, ns := range Namespaces {
		s.docs[ns] = make(map[string][]byte)

		entries, err := fs.ReadDir(fsys, string(ns))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fixture: reading %s: %w", ns, err)
		}

		for _, e := range entries {
			if e.IsDir() || path.Ext(e.Name()) != ".json" {
				continue
			}
			p := path.Join(string(ns), e.Name())
			data, err := fs.ReadFile(fsys, p)
			if err != nil {
				return nil, fmt.Errorf("fixture: reading %s: %w", p, err)
			}

			var probe map[string]any
			if err := json.Unmarshal(data, &probe); err != nil {
				return nil, fmt.Errorf("fixture: %s is not a JSON object: %w", p, err)
			}
			s.docs[ns][strings.TrimSuffix(e.Name(), ".json")] = data
		}
	}

	return s, nil
}

// Open loads fixtures from a directory on disk.
func Open(dir string) (*Store, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	return Load(os.DirFS(dir))
}

var (
	embeddedOnce  sync.Once
	embeddedStore *Store
	embeddedErr   error
)

// Embedded returns the fixture set compiled into the binary. It is parsed
// once per process.
func Embedded() (*Store, error) {
	embeddedOnce.Do(func() {
		sub, err := fs.Sub(embedded, "data")
		if err != nil {
			embeddedErr = err
			return
		}
		embeddedStore, embeddedErr = Load(sub)
	})
	return embeddedStore, embeddedErr
}

// OpenOrEmbedded opens dir when it is set and falls back to the embedded set.
func OpenOrEmbedded(dir string) (*Store, error) {
	if dir == "" {
		return Embedded()
	}
	return Open(dir)
}

// Get returns a fresh copy of the named document.
func (s *Store) Get(ns Namespace, name string) (map[string]any, error) {
	data, ok := s.docs[ns][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, name)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("fixture: decoding %s/%s: %w", ns, name, err)
	}
	return doc, nil
}

// Request returns the named request fixture.
func (s *Store) Request(name string) (map[string]any, error) {
	return s.Get(Requests, name)
}

// Response returns the named response fixture.
func (s *Store) Response(name string) (map[string]any, error) {
	return s.Get(Responses, name)
}

// Decode unmarshals the named document into v.
func (s *Store) Decode(ns Namespace, name string, v any) error {
	data, ok := s.docs[ns][name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, ns, name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("fixture: decoding %s/%s: %w", ns, name, err)
	}
	return nil
}

// Has reports whether the named document exists.
func (s *Store) Has(ns Namespace, name string) bool {
	_, ok := s.docs[ns][name]
	return ok
}

// Names returns the sorted fixture names of a namespace.
func (s *Store) Names(ns Namespace) []string {
	names := make([]string, 0, len(s.docs[ns]))
	for name := range s.docs[ns] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
