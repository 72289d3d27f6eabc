package domain

import (
	"errors"
	"fmt"
)

// ErrorKind labels a failure for summaries and metrics.
type ErrorKind string

const (
	KindTransientFetch ErrorKind = "transient_fetch"
	KindExtraction     ErrorKind = "extraction"
	KindConfiguration  ErrorKind = "configuration"
	KindStorage        ErrorKind = "storage"
	KindUnknown        ErrorKind = "unknown"
)

// TransientFetchError marks a network failure or timeout worth retrying next run.
type TransientFetchError struct {
	URL string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("transient fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// ExtractionError marks a page that could not be reduced to usable text.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ConfigurationError marks an invalid or unknown source configuration.
type ConfigurationError struct {
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration of source %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StorageError marks a repository failure; it aborts the current batch.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KindOf classifies err by the first typed error in its chain.
func KindOf(err error) ErrorKind {
	var (
		transient  *TransientFetchError
		extraction *ExtractionError
		cfgErr     *ConfigurationError
		storage    *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &storage):
		return KindStorage
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &transient):
		return KindTransientFetch
	case errors.As(err, &extraction):
		return KindExtraction
	default:
		return KindUnknown
	}
}
