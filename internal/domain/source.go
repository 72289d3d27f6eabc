package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceType discriminates the connector family a source belongs to.
type SourceType string

const (
	SourceFeed          SourceType = "feed"
	SourceStructuredAPI SourceType = "structured-api"
)

// Valid reports whether the type is one of the known connector families.
func (t SourceType) Valid() bool {
	return t == SourceFeed || t == SourceStructuredAPI
}

// Source is a configured origin of candidates together with its resumption cursor.
type Source struct {
	ID        int64
	Name      string
	Type      SourceType
	Config    json.RawMessage
	Enabled   bool
	Cursor    string
	LastRunAt *time.Time
	CreatedAt time.Time
}

// SourceSettings holds the connector-independent keys of a source config payload.
type SourceSettings struct {
	Connector string   `json:"connector"`
	Weight    *float64 `json:"weight"`
}

// Settings decodes the common keys from the opaque config payload.
func (s Source) Settings() (SourceSettings, error) {
	var settings SourceSettings
	if len(s.Config) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(s.Config, &settings); err != nil {
		return settings, &ConfigurationError{Source: s.Name, Err: fmt.Errorf("decode config: %w", err)}
	}
	if settings.Weight != nil && (*settings.Weight < 0 || *settings.Weight > 1) {
		return settings, &ConfigurationError{Source: s.Name, Err: fmt.Errorf("weight %.2f outside [0,1]", *settings.Weight)}
	}
	return settings, nil
}

// ConnectorKind is the registry key used to resolve the source's connector.
func (s SourceSettings) ConnectorKind(t SourceType) string {
	if s.Connector != "" {
		return s.Connector
	}
	return string(t)
}
