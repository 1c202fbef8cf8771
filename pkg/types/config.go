package types

import "errors"

// Config holds backend selection and parameters for opening a storage
// backend and the sessions that use it.
type Config struct {
	Backend      string      `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir      string      `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	DSN          string      `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Database     string      `json:"database" yaml:"database" mapstructure:"database"`
	SyncStrategy string      `json:"sync_strategy" yaml:"sync_strategy" mapstructure:"sync_strategy"`
	MappingFile  string      `json:"mapping_file" yaml:"mapping_file" mapstructure:"mapping_file"`
	Cache        CacheConfig `json:"cache" yaml:"cache" mapstructure:"cache"`
}

// CacheConfig controls the second-level cache.
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Size    int  `json:"size" yaml:"size" mapstructure:"size"`
}

// Supported backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// SQLite sync strategies: when the JSONL files are rewritten.
const (
	SyncImmediate = "immediate"
	SyncOnClose   = "on_close"
)

// DefaultCacheSize is the cache capacity used when Cache.Size is zero.
const DefaultCacheSize = 1024

// Config validation errors.
var (
	ErrBackendEmpty        = errors.New("backend must not be empty")
	ErrBackendUnknown      = errors.New("unknown backend")
	ErrSyncStrategyUnknown = errors.New("unknown sync strategy")
	ErrDSNRequired         = errors.New("dsn is required for this backend")
	ErrDatabaseRequired    = errors.New("database is required for this backend")
	ErrCacheSizeInvalid    = errors.New("cache size must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendMemory:   true,
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMongo:    true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	switch c.Backend {
	case BackendSQLite:
		if c.SyncStrategy != "" && c.SyncStrategy != SyncImmediate && c.SyncStrategy != SyncOnClose {
			return ErrSyncStrategyUnknown
		}
	case BackendPostgres:
		if c.DSN == "" {
			return ErrDSNRequired
		}
	case BackendMongo:
		if c.DSN == "" {
			return ErrDSNRequired
		}
		if c.Database == "" {
			return ErrDatabaseRequired
		}
	}
	if c.Cache.Size < 0 {
		return ErrCacheSizeInvalid
	}
	return nil
}

// GetSyncStrategy returns the SQLite sync strategy, defaulting to immediate.
func (c Config) GetSyncStrategy() string {
	if c.SyncStrategy == "" {
		return SyncImmediate
	}
	return c.SyncStrategy
}

// GetCacheSize returns the cache capacity, defaulting to DefaultCacheSize.
func (c Config) GetCacheSize() int {
	if c.Cache.Size == 0 {
		return DefaultCacheSize
	}
	return c.Cache.Size
}
