// Package sources holds the outbound ports to upstream systems and the
// resilience wrapper every call to them goes through.
package sources

import (
	"context"
	"fmt"
	"slices"
	"time"

	"supporterhub/internal/ingestion"
	id "supporterhub/pkg/domain"
)

// Client lists one source system's records created or changed since an
// instant, each already shaped as an inbound message.
type Client interface {
	Source() id.SourceSystem
	FetchSince(ctx context.Context, since time.Time) ([]ingestion.Message, error)
}

// AudienceClient reads and writes member tags in an external audience.
type AudienceClient interface {
	System() id.SourceSystem
	CurrentTags(ctx context.Context, audienceID, memberID string) ([]string, error)
	UpdateTags(ctx context.Context, audienceID, memberID string, add, remove []string) error
}

// Registry holds at most one client per source system.
type Registry struct {
	clients map[id.SourceSystem]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[id.SourceSystem]Client)}
}

// Register adds a client. A second client for the same source is an error.
func (r *Registry) Register(c Client) error {
	source := c.Source()
	if _, exists := r.clients[source]; exists {
		return fmt.Errorf("client for %s already registered", source)
	}
	r.clients[source] = c
	return nil
}

func (r *Registry) Get(source id.SourceSystem) (Client, bool) {
	c, ok := r.clients[source]
	return c, ok
}

// All returns the registered clients ordered by source name.
func (r *Registry) All() []Client {
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Client) int {
		switch {
		case a.Source() < b.Source():
			return -1
		case a.Source() > b.Source():
			return 1
		}
		return 0
	})
	return out
}
