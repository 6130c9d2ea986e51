package core

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// DefaultSentinel is the path of the canonical not-found resource.
const DefaultSentinel = "~notfound"

// RouteProvider is a read-only routing table.
// The table is written by the site build; this process only ever reads it.
//
// Implementations must be thread-safe!
type RouteProvider interface {
	// Open returns a read handle scoped to a single request.
	// All reads through the handle observe the same table state.
	Open(ctx context.Context) (Snapshot, error)
	// Close releases the provider.
	Close() error
}

// Snapshot is a per-request read handle on the routing table.
type Snapshot interface {
	// Entries returns the known entries among the given paths, with all variants.
	// Paths that are not in the table are simply absent from the result.
	Entries(ctx context.Context, paths ...string) ([]Entry, error)
	// Payload returns the inline bytes of the variant of path with the given encoding.
	Payload(ctx context.Context, path, encoding string) ([]byte, error)
	// Close ends the read.
	Close() error
}

// ProviderKind selects a RouteProvider implementation.
type ProviderKind string

const (
	ProviderSQLite   ProviderKind = "sqlite"
	ProviderPostgres ProviderKind = "postgres"
	ProviderMemory   ProviderKind = "memory"
)

type ProviderConfig struct {
	Kind ProviderKind
	// DSN is the database file (sqlite) or connection string (postgres).
	DSN string
	// File is the YAML snapshot loaded by the memory provider.
	File string
	// Sentinel is the not-found path the memory provider requires to exist.
	Sentinel string
}

// NewRouteProvider opens the configured routing table.
func NewRouteProvider(cfg ProviderConfig) (RouteProvider, error) {
	log.Info().Str("provider", string(cfg.Kind)).Msg("Opening routing table")
	switch cfg.Kind {
	case ProviderSQLite, "":
		return NewSQLiteRoutes(cfg.DSN)
	case ProviderPostgres:
		return NewPostgresRoutes(cfg.DSN)
	case ProviderMemory:
		f, err := os.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open routes file: %w", err)
		}
		defer f.Close()
		sentinel := cfg.Sentinel
		if sentinel == "" {
			sentinel = DefaultSentinel
		}
		return LoadMemRoutes(f, sentinel)
	default:
		return nil, fmt.Errorf("unsupported routing provider: %s", cfg.Kind)
	}
}
