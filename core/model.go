package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCorruptRow is returned when a stored row violates the routing table's closed
// vocabularies or invariants. It is never defaulted or guessed around.
var ErrCorruptRow = errors.New("corrupt routing row")

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptRow, fmt.Sprintf(format, args...))
}

// Action is the stored disposition kind of a path.
type Action int

const (
	ActionServe Action = iota + 1
	ActionRedirect
	ActionGone
)

// ParseAction accepts both the canonical names and the site build's column values.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(s) {
	case "SERVE", "RESOURCE":
		return ActionServe, nil
	case "REDIRECT":
		return ActionRedirect, nil
	case "GONE", "DELETION":
		return ActionGone, nil
	}
	return 0, corrupt("unknown action %q", s)
}

func (a Action) String() string {
	switch a {
	case ActionServe:
		return "SERVE"
	case ActionRedirect:
		return "REDIRECT"
	case ActionGone:
		return "GONE"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// CachePolicy selects the Cache-Control header of a path.
type CachePolicy int

const (
	CacheNone CachePolicy = iota
	CacheInstant
	CacheShort
	CacheMedium
	CacheLong
	CacheIndefinite
)

var cachePolicyNames = [...]string{
	CacheNone:       "NONE",
	CacheInstant:    "INSTANT",
	CacheShort:      "SHORT",
	CacheMedium:     "MEDIUM",
	CacheLong:       "LONG",
	CacheIndefinite: "INDEFINITE",
}

var cacheControlValues = [len(cachePolicyNames)]string{
	CacheNone:       "",
	CacheInstant:    "public, no-cache",
	CacheShort:      "public, max-age=100",     // 1.7 minutes
	CacheMedium:     "public, max-age=10000",   // 2.8 hours
	CacheLong:       "public, max-age=1000000", // 11.6 days
	CacheIndefinite: "public, max-age=31536000, immutable",
}

func ParseCachePolicy(s string) (CachePolicy, error) {
	for p, name := range cachePolicyNames {
		if strings.EqualFold(s, name) {
			return CachePolicy(p), nil
		}
	}
	return 0, corrupt("unknown cache policy %q", s)
}

func (c CachePolicy) valid() bool {
	return c >= 0 && int(c) < len(cachePolicyNames)
}

func (c CachePolicy) String() string {
	if !c.valid() {
		return fmt.Sprintf("CachePolicy(%d)", int(c))
	}
	return cachePolicyNames[c]
}

// CacheControl returns the header value for the policy, empty for CacheNone
// and for values outside the known set.
func (c CachePolicy) CacheControl() string {
	if !c.valid() {
		return ""
	}
	return cacheControlValues[c]
}

// StorageKind tells where the bytes of a variant live.
type StorageKind int

const (
	// StorageInline bytes are kept in the routing table itself.
	StorageInline StorageKind = iota + 1
	// StorageExternal bytes are kept in the blob store under Variant.Location.
	StorageExternal
)

func ParseStorageKind(s string) (StorageKind, error) {
	switch strings.ToUpper(s) {
	case "INLINE", "DATABASE":
		return StorageInline, nil
	case "EXTERNAL", "FILESYSTEM":
		return StorageExternal, nil
	}
	return 0, corrupt("unknown storage location %q", s)
}

func (k StorageKind) String() string {
	if k == StorageExternal {
		return "EXTERNAL"
	}
	return "INLINE"
}

// Durability distinguishes permanent from temporary redirects.
type Durability int

const (
	Temporary Durability = iota + 1
	Permanent
)

func ParseDurability(s string) (Durability, error) {
	switch strings.ToUpper(s) {
	case "TEMPORARY":
		return Temporary, nil
	case "PERMANENT":
		return Permanent, nil
	}
	return 0, corrupt("unknown redirect duration %q", s)
}

// Variant is one encoded representation of a servable path.
type Variant struct {
	// Validator is the entity tag of the path's content, quotes included.
	Validator string
	// Encoding is the content coding, empty for identity.
	Encoding string
	Storage  StorageKind
	// Location names the blob of an external variant.
	Location string
	Length   int64
}

// Disposition is what a path resolves to. The set is closed: Serve, Redirect and Gone.
// Each kind builds its own response, so adding a kind cannot leave a branch unhandled.
type Disposition interface {
	Action() Action
	respond(res Resolution, rsp *Response)
}

// Serve makes a path servable with the given variants.
type Serve struct {
	ContentType string
	Variants    []Variant
}

// Redirect sends the client to Target.
type Redirect struct {
	Durability Durability
	Target     string
}

// Gone reports the permanent removal of a path.
type Gone struct{}

func (Serve) Action() Action    { return ActionServe }
func (Redirect) Action() Action { return ActionRedirect }
func (Gone) Action() Action     { return ActionGone }

// Entry is a known path of the routing table.
type Entry struct {
	Path        string
	Cache       CachePolicy
	Disposition Disposition
}

// validate checks the per-path invariants that the builder relies on.
func (e Entry) validate() error {
	if !e.Cache.valid() {
		return corrupt("%s: unknown cache policy %s", e.Path, e.Cache)
	}
	switch d := e.Disposition.(type) {
	case Serve:
		seen := make(map[string]bool, len(d.Variants))
		for _, v := range d.Variants {
			if seen[v.Encoding] {
				return corrupt("%s: duplicate encoding %q", e.Path, v.Encoding)
			}
			seen[v.Encoding] = true
			if v.Length < 0 {
				return corrupt("%s: negative length", e.Path)
			}
			if d.ContentType == "" && v.Length != 0 {
				return corrupt("%s: untyped content with length %d", e.Path, v.Length)
			}
			if v.Storage == StorageExternal && v.Location == "" {
				return corrupt("%s: external variant without location", e.Path)
			}
		}
	case Redirect:
		if d.Target == "" {
			return corrupt("%s: redirect without location", e.Path)
		}
	case Gone:
	case nil:
		return corrupt("%s: no disposition", e.Path)
	}
	return nil
}
