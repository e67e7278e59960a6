// Package config loads freezerctl settings from an optional YAML file and
// FREEZER_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"freezercore/internal/blob"
	"freezercore/internal/core"
	"freezercore/pkg/catalog"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FREEZER_STORE_DRIVER.
const EnvPrefix = "FREEZER"

// Config is the complete runtime configuration.
type Config struct {
	Store   Store   `mapstructure:"store"`
	Blob    Blob    `mapstructure:"blob"`
	Catalog Catalog `mapstructure:"catalog"`
	Log     Log     `mapstructure:"log"`
	Metrics Metrics `mapstructure:"metrics"`
	Trace   Trace   `mapstructure:"trace"`
}

// Store selects the persistence driver. Driver is memory, sqlite or
// postgres; only the matching path or DSN is read.
type Store struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Blob configures where pre-migration archives are written.
type Blob struct {
	Driver string        `mapstructure:"driver"`
	FSRoot string        `mapstructure:"fs_root"`
	S3     blob.S3Config `mapstructure:"s3"`
}

// Catalog points at an optional YAML catalog; empty selects the built-in one.
type Catalog struct {
	Path string `mapstructure:"path"`
}

// Log picks the zap preset. Mode "prod" logs JSON at info level; anything
// else logs to the console at debug level.
type Log struct {
	Mode string `mapstructure:"mode"`
}

// Metrics names the metric namespace. When Textfile is set, commands write
// their registry there in the node exporter textfile format on exit.
type Metrics struct {
	Namespace string `mapstructure:"namespace"`
	Textfile  string `mapstructure:"textfile"`
}

// Trace appends OpenTelemetry spans as JSON to File when it is set.
type Trace struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", string(core.StorageSQLite))
	v.SetDefault("store.sqlite_path", "freezer.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./archives")
	// S3 keys need defaults so AutomaticEnv can see them during Unmarshal.
	for _, key := range []string{"region", "bucket", "endpoint", "access_key_id", "secret_access_key", "session_token", "key_prefix"} {
		v.SetDefault("blob.s3."+key, "")
	}
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("catalog.path", "")
	v.SetDefault("log.mode", "dev")
	v.SetDefault("metrics.namespace", "freezer")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("trace.file", "")
}

// Load reads path when given, otherwise looks for freezer.yaml in the working
// directory. A missing default file is not an error; environment variables
// override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName("freezer")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	switch core.StorageDriver(c.Store.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Store.PostgresDSN == "" {
			errs = multierror.Append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = multierror.Append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("blob.driver %q is not one of memory, fs, s3", c.Blob.Driver))
	}
	return errs.ErrorOrNil()
}

// StorageConfig converts the store section for core.OpenPersistentStore.
func (c *Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Store.Driver),
		SQLitePath:  c.Store.SQLitePath,
		PostgresDSN: c.Store.PostgresDSN,
	}
}

// BlobConfig converts the blob section for blob.Open.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{Driver: blob.Driver(c.Blob.Driver), FSRoot: c.Blob.FSRoot, S3: c.Blob.S3}
}

// LoadCatalog returns the configured catalog.
func (c *Config) LoadCatalog() (*catalog.Catalog, error) {
	if c.Catalog.Path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(c.Catalog.Path)
}
