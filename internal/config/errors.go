package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when a command that needs URLs got none.
	ErrNoTarget = errors.New("no target specified: provide a URL or use --list")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when the batch concurrency is not
	// positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidCacheTTL is returned when the cache TTL is not positive.
	ErrInvalidCacheTTL = errors.New("invalid cache ttl: must be positive")

	// ErrInvalidFetchBurst is returned when fetch limiting is on without a
	// positive burst.
	ErrInvalidFetchBurst = errors.New("invalid fetch burst: must be positive when a fetch rate is set")

	// ErrNoDBDir is returned when history is enabled without a directory.
	ErrNoDBDir = errors.New("history enabled but no database directory configured")

	// ErrInvalidThreshold is returned for a threshold file whose value is
	// outside (0, 1).
	ErrInvalidThreshold = errors.New("invalid threshold: must be between 0 and 1")
)
