package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"IdeaRadar/internal/domain"
)

// Request carries all parameters required to pull one batch from a source.
type Request struct {
	SourceName string
	Config     json.RawMessage
	Cursor     string
	Limit      int
}

// Result is a bounded candidate sequence plus the cursor to resume after it.
type Result struct {
	Candidates []domain.Candidate
	Next       string
}

// Connector captures a single source strategy (feed, Hacker News, arXiv, etc.).
type Connector interface {
	Kind() string
	Type() domain.SourceType
	Fetch(ctx context.Context, req Request) (Result, error)
}

// Registry keeps a mapping from connector kinds to their implementations.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: map[string]Connector{}}
}

// Register adds or replaces a connector implementation, optionally under extra aliases.
func (r *Registry) Register(c Connector, aliases ...string) {
	if r.connectors == nil {
		r.connectors = map[string]Connector{}
	}
	r.connectors[c.Kind()] = c
	for _, alias := range aliases {
		r.connectors[alias] = c
	}
}

// Resolve returns a connector by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Connector, error) {
	if c, ok := r.connectors[kind]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("connector %s is not registered", kind)
}

// ResolveSource picks the connector for src and checks it serves the source's type.
func (r *Registry) ResolveSource(src domain.Source) (Connector, error) {
	if !src.Type.Valid() {
		return nil, &domain.ConfigurationError{Source: src.Name, Err: fmt.Errorf("unknown source type %q", src.Type)}
	}
	settings, err := src.Settings()
	if err != nil {
		return nil, err
	}
	c, err := r.Resolve(settings.ConnectorKind(src.Type))
	if err != nil {
		return nil, &domain.ConfigurationError{Source: src.Name, Err: err}
	}
	if c.Type() != src.Type {
		return nil, &domain.ConfigurationError{
			Source: src.Name,
			Err:    fmt.Errorf("connector %s serves %s sources, not %s", c.Kind(), c.Type(), src.Type),
		}
	}
	return c, nil
}
