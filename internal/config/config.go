// Package config loads runtime settings: built-in defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvSupabaseURL       = "SUPABASE_URL"
	EnvSupabaseKey       = "SUPABASE_SERVICE_KEY"
	EnvAdminPassphrase   = "ADMIN_PASSPHRASE"
	EnvWitnessPassphrase = "WITNESS_PASSPHRASE"
	EnvAddr              = "CRUISELINE_ADDR"
	EnvLogLevel          = "CRUISELINE_LOG_LEVEL"
	EnvBlobDriver        = "CRUISELINE_BLOB_DRIVER"
	EnvBlobFSRoot        = "CRUISELINE_BLOB_FS_ROOT"
	EnvBlobS3Bucket      = "CRUISELINE_BLOB_S3_BUCKET"
	EnvBlobS3Region      = "CRUISELINE_BLOB_S3_REGION"
	EnvBlobS3Endpoint    = "CRUISELINE_BLOB_S3_ENDPOINT"
	EnvBlobS3PathStyle   = "CRUISELINE_BLOB_S3_PATH_STYLE"
)

// Config is the full runtime configuration.
type Config struct {
	Datastore Datastore `yaml:"datastore"`
	Access    Access    `yaml:"access"`
	Server    Server    `yaml:"server"`
	Blob      Blob      `yaml:"blob"`
	LogLevel  string    `yaml:"log_level"`
}

// Datastore holds the endpoint and credential handles are built from.
type Datastore struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

// Access holds the passphrases checked by /api/auth.
type Access struct {
	AdminPassphrase   string `yaml:"admin_passphrase"`
	WitnessPassphrase string `yaml:"witness_passphrase"`
}

// Server holds listener settings.
type Server struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Blob selects the snapshot target.
type Blob struct {
	Driver string `yaml:"driver"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
}

// S3 configures the S3 blob driver.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:              "127.0.0.1:8080",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Blob: Blob{
			Driver: "fs",
			FSRoot: "./snapshots",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration. An empty path skips the file; a path that
// does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that would make the process unusable. Missing
// datastore settings are not rejected here; they fail per request.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str(EnvSupabaseURL, &cfg.Datastore.URL)
	str(EnvSupabaseKey, &cfg.Datastore.ServiceKey)
	str(EnvAdminPassphrase, &cfg.Access.AdminPassphrase)
	str(EnvWitnessPassphrase, &cfg.Access.WitnessPassphrase)
	str(EnvAddr, &cfg.Server.Addr)
	str(EnvLogLevel, &cfg.LogLevel)
	str(EnvBlobDriver, &cfg.Blob.Driver)
	str(EnvBlobFSRoot, &cfg.Blob.FSRoot)
	str(EnvBlobS3Bucket, &cfg.Blob.S3.Bucket)
	str(EnvBlobS3Region, &cfg.Blob.S3.Region)
	str(EnvBlobS3Endpoint, &cfg.Blob.S3.Endpoint)
	if v, ok := lookup(EnvBlobS3PathStyle); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBlobS3PathStyle, err)
		}
		cfg.Blob.S3.PathStyle = b
	}
	return nil
}
