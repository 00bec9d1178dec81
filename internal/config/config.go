// Package config provides configuration management for protolith: a YAML
// file (with environment-variable expansion) layered under environment
// variable overrides, mirroring the PROTOLITH_* variables of the original
// implementation (spec.md §6.4).
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config is protolith's full runtime configuration.
type Config struct {
	Addr     string         `yaml:"addr"`
	DB       DBConfig       `yaml:"db"`
	MetaStore MetaStoreConfig `yaml:"meta_store"`
	Schema   SchemaConfig   `yaml:"schema"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`

	ShutdownGracePeriodSeconds int  `yaml:"shutdown_grace_period_seconds"`
	DestroyOnShutdown          bool `yaml:"destroy_on_shutdown"`
}

// DBConfig is the underlying ordered KV store's tuning knobs and the name
// every per-database descriptor file is expected to carry.
type DBConfig struct {
	Path               string `yaml:"path"`
	MaxOpenFiles       int    `yaml:"max_open_files"`
	CacheSizeBytes     int64  `yaml:"cache_size_bytes"`
	DescriptorFileName string `yaml:"descriptor_file_name"`
}

// MetaStoreConfig names the column families the MetaStore keeps its
// bookkeeping in.
type MetaStoreConfig struct {
	IndexCFName          string `yaml:"index_cf_name"`
	SchemaCFName         string `yaml:"schema_cf_name"`
	SchemaVersionsCFName string `yaml:"schema_versions_cf_name"`
	UserCFName           string `yaml:"user_cf_name"`
}

// SchemaConfig sets the default schema version new collections are
// registered at. EnableVersioning is loaded from the file and environment
// but no component reads it: schema registration and listing behave the
// same whichever value it has.
type SchemaConfig struct {
	DefaultVersion   uint64 `yaml:"default_version"`
	EnableVersioning bool   `yaml:"enable_versioning"`
}

// AuthConfig is the bootstrap principal minted at boot (spec.md §4.6 step
// 7) if no such user already exists.
type AuthConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// DatabaseConfig names the default database and where its descriptor set
// is read from when no descriptor file is staged in that database's
// directory yet.
type DatabaseConfig struct {
	Name           string `yaml:"name"`
	DescriptorPath string `yaml:"descriptor_path"`
}

// LoggingConfig controls the structured logger installed at boot. When
// File is empty, logs go to stdout; otherwise they're written through a
// rotating file sink.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Writer returns the destination the structured logger should write to:
// stdout if no log file is configured, or a size/age-rotated file sink
// otherwise.
func (l LoggingConfig) Writer() io.Writer {
	if l.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   l.File,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   true,
	}
}

// Environment variables overriding the loaded configuration, named after
// the original implementation's PROTOLITH_* catalogue.
const (
	envDBPath               = "PROTOLITH_DB_PATH"
	envDBMaxOpenFiles       = "PROTOLITH_DB_MAX_OPEN_FILES"
	envDBCacheSize          = "PROTOLITH_DB_CACHE_SIZE"
	envMetaStoreIndexName   = "PROTOLITH_METASTORE_INDEX_NAME"
	envMetaStoreSchemaName  = "PROTOLITH_METASTORE_SCHEMA_NAME"
	envMetaStoreVersionName = "PROTOLITH_METASTORE_VERSION_NAME"
	envMetaStoreUser        = "PROTOLITH_METASTORE_USER"
	envSchemaDefaultVersion = "PROTOLITH_SCHEMA_DEFAULT_VERSION"
	envSchemaEnableVersion  = "PROTOLITH_SCHEMA_VERSIONING"
	envAddr                 = "PROTOLITH_ADDR"
	envUser                 = "PROTOLITH_USER"
	envPass                 = "PROTOLITH_PASS"
	envShutdownGracePeriod  = "PROTOLITH_SHUTDOWN_GRACE_PERIOD"
	envDatabase             = "PROTOLITH_DATABASE"
	envDestroyOnShutdown    = "PROTOLITH_DESTROY_ON_SHUTDOWN"
	envDBDescriptorName     = "PROTOLITH_DB_DESCRIPTOR_NAME"
	envDefaultDBDescriptor  = "PROTOLITH_DEFAULT_DB_DESCRIPTOR"
	envLogLevel             = "PROTOLITH_LOG_LEVEL"
	envLogFormat            = "PROTOLITH_LOG_FORMAT"
	envLogFile              = "PROTOLITH_LOG_FILE"
)

// Default values for every configuration field (spec.md §6.4).
const (
	defaultDBMaxOpenFiles       = 1000
	defaultDBCacheSizeBytes     = 1 << 30 // 1GiB
	defaultIndexCFName          = "index"
	defaultSchemaCFName         = "schema"
	defaultSchemaVersionsCFName = "schema_versions"
	defaultUserCFName           = "user"
	defaultAddr                 = "0.0.0.0:5678"
	defaultDBDescriptorPath     = "/usr/src/bin/protolith-db/descriptor.bin"
	defaultUser                 = "protolith"
	defaultPassword             = "protolith"
	defaultShutdownGraceSeconds = 120
	defaultSchemaVersion        = uint64(1)
	defaultDatabaseName         = "protolith"
	defaultDescriptorFileName   = "DESCRIPTOR"
	defaultLogMaxSizeMB         = 100
	defaultLogMaxBackups        = 5
	defaultLogMaxAgeDays        = 28
)

// DefaultConfig returns a configuration with every default value applied.
func DefaultConfig() *Config {
	return &Config{
		Addr: defaultAddr,
		DB: DBConfig{
			MaxOpenFiles:       defaultDBMaxOpenFiles,
			CacheSizeBytes:     defaultDBCacheSizeBytes,
			DescriptorFileName: defaultDescriptorFileName,
		},
		MetaStore: MetaStoreConfig{
			IndexCFName:          defaultIndexCFName,
			SchemaCFName:         defaultSchemaCFName,
			SchemaVersionsCFName: defaultSchemaVersionsCFName,
			UserCFName:           defaultUserCFName,
		},
		Schema: SchemaConfig{
			DefaultVersion:   defaultSchemaVersion,
			EnableVersioning: false,
		},
		Auth: AuthConfig{
			User:     defaultUser,
			Password: defaultPassword,
		},
		Database: DatabaseConfig{
			Name:           defaultDatabaseName,
			DescriptorPath: defaultDBDescriptorPath,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
		ShutdownGracePeriodSeconds: defaultShutdownGraceSeconds,
		DestroyOnShutdown:          false,
	}
}

// Load loads configuration from a YAML file (if path is non-empty) and
// then applies environment variable overrides, mirroring the teacher's
// file-then-env layering.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is from command-line argument, user-controlled input is expected
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides cfg's fields from the PROTOLITH_* environment
// variables, each taking precedence over whatever the YAML file set.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envDBPath); v != "" {
		c.DB.Path = v
	}
	if v := os.Getenv(envDBMaxOpenFiles); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DB.MaxOpenFiles = n
		}
	}
	if v := os.Getenv(envDBCacheSize); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.DB.CacheSizeBytes = n
		}
	}
	if v := os.Getenv(envDBDescriptorName); v != "" {
		c.DB.DescriptorFileName = v
	}

	if v := os.Getenv(envMetaStoreIndexName); v != "" {
		c.MetaStore.IndexCFName = v
	}
	if v := os.Getenv(envMetaStoreSchemaName); v != "" {
		c.MetaStore.SchemaCFName = v
	}
	if v := os.Getenv(envMetaStoreVersionName); v != "" {
		c.MetaStore.SchemaVersionsCFName = v
	}
	if v := os.Getenv(envMetaStoreUser); v != "" {
		c.MetaStore.UserCFName = v
	}

	if v := os.Getenv(envSchemaDefaultVersion); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Schema.DefaultVersion = n
		}
	}
	if v := os.Getenv(envSchemaEnableVersion); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Schema.EnableVersioning = b
		}
	}

	if v := os.Getenv(envAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(envUser); v != "" {
		c.Auth.User = v
	}
	if v := os.Getenv(envPass); v != "" {
		c.Auth.Password = v
	}

	if v := os.Getenv(envShutdownGracePeriod); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ShutdownGracePeriodSeconds = n
		}
	}
	if v := os.Getenv(envDatabase); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv(envDestroyOnShutdown); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DestroyOnShutdown = b
		}
	}
	if v := os.Getenv(envDefaultDBDescriptor); v != "" {
		c.Database.DescriptorPath = v
	}

	if v := os.Getenv(envLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(envLogFile); v != "" {
		c.Logging.File = v
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	if c.DB.MaxOpenFiles <= 0 {
		return fmt.Errorf("db.max_open_files must be positive: %d", c.DB.MaxOpenFiles)
	}
	if c.DB.CacheSizeBytes <= 0 {
		return fmt.Errorf("db.cache_size_bytes must be positive: %d", c.DB.CacheSizeBytes)
	}
	if c.DB.DescriptorFileName == "" {
		return fmt.Errorf("db.descriptor_file_name must not be empty")
	}
	if c.Schema.DefaultVersion == 0 {
		return fmt.Errorf("schema.default_version must be at least 1")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name must not be empty")
	}
	if c.ShutdownGracePeriodSeconds < 0 {
		return fmt.Errorf("shutdown_grace_period_seconds must not be negative: %d", c.ShutdownGracePeriodSeconds)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	for _, cf := range []string{
		c.MetaStore.IndexCFName,
		c.MetaStore.SchemaCFName,
		c.MetaStore.SchemaVersionsCFName,
		c.MetaStore.UserCFName,
	} {
		if cf == "" {
			return fmt.Errorf("meta_store column family names must not be empty")
		}
	}

	return nil
}

// Address returns the listen address the RPC server should bind to.
func (c *Config) Address() string {
	return c.Addr
}
