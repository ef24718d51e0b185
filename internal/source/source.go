// Package source holds the adapters that pull raw items from external
// feeds. Each source kind (rss, api, html) has one adapter implementation;
// a registry selects it from the kind field on the source config.
package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/user/newspulse/internal/types"
)

// Adapter fetches raw items for one kind of source.
type Adapter interface {
	Kind() types.SourceKind
	Fetch(ctx context.Context, cfg *types.SourceConfig) ([]types.RawItem, error)
}

// Registry maps source kinds to their adapter implementations.
type Registry struct {
	adapters map[types.SourceKind]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[types.SourceKind]Adapter{}}
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Kind()] = a
}

// Resolve returns the adapter for a kind, or an error if none is registered.
func (r *Registry) Resolve(kind types.SourceKind) (Adapter, error) {
	if a, ok := r.adapters[kind]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no adapter registered for source kind %q", kind)
}

func defaultClient(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Timeout: 20 * time.Second}
	}
	return client
}
