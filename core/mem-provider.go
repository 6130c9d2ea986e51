package core

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// memRoute is the YAML form of one path of a routing snapshot.
type memRoute struct {
	Path      string       `yaml:"path"`
	Action    string       `yaml:"action"`
	Cache     string       `yaml:"cache"`
	Type      string       `yaml:"type"`
	Validator string       `yaml:"validator"`
	Variants  []memVariant `yaml:"variants"`
	Redirect  *struct {
		Type     string `yaml:"type"`
		Location string `yaml:"location"`
	} `yaml:"redirect"`
}

type memVariant struct {
	Encoding string  `yaml:"encoding"`
	Data     *string `yaml:"data"`
	File     string  `yaml:"file"`
	Length   *int64  `yaml:"length"`
}

type memKey struct {
	path, encoding string
}

// MemRoutes is an immutable routing table held in memory.
// Since it never changes, every snapshot is the table itself.
type MemRoutes struct {
	entries  map[string]Entry
	payloads map[memKey][]byte
}

// LoadMemRoutes reads a YAML routing snapshot, e.g.
//
//	routes:
//	  - path: /app.js
//	    action: SERVE
//	    cache: LONG
//	    type: text/javascript
//	    validator: '"v1"'
//	    variants:
//	      - {encoding: "", data: "..."}
//	      - {encoding: gzip, file: resources/APP-gzip, length: 1800}
//
// The snapshot is validated before use; the sentinel path must be servable.
func LoadMemRoutes(r io.Reader, sentinel string) (*MemRoutes, error) {
	var doc struct {
		Routes []memRoute `yaml:"routes"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	m := &MemRoutes{
		entries:  make(map[string]Entry, len(doc.Routes)),
		payloads: make(map[memKey][]byte),
	}
	for _, route := range doc.Routes {
		if err := m.add(route); err != nil {
			return nil, err
		}
	}
	if e, ok := m.entries[sentinel]; !ok || e.Disposition.Action() != ActionServe {
		return nil, corrupt("sentinel %s must exist and be servable", sentinel)
	}
	return m, nil
}

func (m *MemRoutes) add(route memRoute) error {
	if _, dup := m.entries[route.Path]; dup {
		return corrupt("duplicate path %s", route.Path)
	}
	e := Entry{Path: route.Path}
	action, err := ParseAction(route.Action)
	if err != nil {
		return fmt.Errorf("%s: %w", route.Path, err)
	}
	if e.Cache, err = ParseCachePolicy(route.Cache); err != nil {
		return fmt.Errorf("%s: %w", route.Path, err)
	}
	if action != ActionServe && (len(route.Variants) > 0 || route.Type != "") {
		return corrupt("%s: %s path with content", route.Path, action)
	}
	switch action {
	case ActionServe:
		serve := Serve{ContentType: route.Type}
		for _, mv := range route.Variants {
			v, err := m.variant(route, mv)
			if err != nil {
				return err
			}
			serve.Variants = append(serve.Variants, v)
		}
		e.Disposition = serve
	case ActionRedirect:
		if route.Redirect == nil {
			return corrupt("%s: redirect without target", route.Path)
		}
		durability, err := ParseDurability(route.Redirect.Type)
		if err != nil {
			return fmt.Errorf("%s: %w", route.Path, err)
		}
		e.Disposition = Redirect{Durability: durability, Target: route.Redirect.Location}
	case ActionGone:
		e.Disposition = Gone{}
	}
	if err := e.validate(); err != nil {
		return err
	}
	m.entries[e.Path] = e
	return nil
}

func (m *MemRoutes) variant(route memRoute, mv memVariant) (Variant, error) {
	v := Variant{Validator: route.Validator, Encoding: mv.Encoding}
	switch {
	case mv.Data != nil && mv.File == "":
		v.Storage = StorageInline
		v.Length = int64(len(*mv.Data))
		if mv.Length != nil && *mv.Length != v.Length {
			return v, corrupt("%s: %q length %d does not match data", route.Path, mv.Encoding, *mv.Length)
		}
		m.payloads[memKey{route.Path, mv.Encoding}] = []byte(*mv.Data)
	case mv.Data == nil && mv.File != "":
		if mv.Length == nil {
			return v, corrupt("%s: %q file variant needs a length", route.Path, mv.Encoding)
		}
		v.Storage = StorageExternal
		v.Location = mv.File
		v.Length = *mv.Length
	default:
		return v, corrupt("%s: %q variant needs exactly one of data and file", route.Path, mv.Encoding)
	}
	return v, nil
}

func (m *MemRoutes) Open(ctx context.Context) (Snapshot, error) {
	return m, nil
}

func (m *MemRoutes) Entries(ctx context.Context, paths ...string) ([]Entry, error) {
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		if e, ok := m.entries[p]; ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *MemRoutes) Payload(ctx context.Context, path, encoding string) ([]byte, error) {
	b, ok := m.payloads[memKey{path, encoding}]
	if !ok {
		return nil, corrupt("%s: no inline %q variant", path, encoding)
	}
	return b, nil
}

// Close is a no-op; the table and its snapshots share one lifetime.
func (m *MemRoutes) Close() error {
	return nil
}
