package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables accepted as the lowest-priority credential source.
const (
	EnvEndpoint  = "R2_ENDPOINT"
	EnvAccessKey = "R2_ACCESS_KEY"
	EnvSecretKey = "R2_SECRET_KEY"
)

const (
	DefaultPattern         = `.*\.png$`
	DefaultIdentityPattern = `^(?:[A-Za-z][A-Za-z0-9]*_)?(\d+)-(\d+)_(\d+)_$`
	DefaultQuality         = 85
	DefaultMaxWorkers      = 4
	DefaultCacheControl    = "public, max-age=31536000"
)

type Config struct {
	ScanDir         string
	Pattern         string
	IdentityPattern string
	Quality         int
	NoCleanup       bool
	KeepConverted   bool
	DryRun          bool
	MaxWorkers      int
	LedgerPath      string
	LogFile         string
	S3              S3Config
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	CacheControl    string
}

// Load merges the three configuration sources. Explicit CLI flags win over
// the config file, which wins over the environment. The environment is fed
// in as viper defaults so a config file can shadow it, while bound flags
// that were actually set shadow both.
func Load(scanDir, configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("pattern", DefaultPattern)
	v.SetDefault("id_pattern", DefaultIdentityPattern)
	v.SetDefault("quality", DefaultQuality)
	v.SetDefault("max_workers", DefaultMaxWorkers)
	v.SetDefault("region", "auto")
	v.SetDefault("cache_control", DefaultCacheControl)
	v.SetDefault("ledger", DefaultLedgerPath())

	if ep := os.Getenv(EnvEndpoint); ep != "" {
		v.SetDefault("endpoint", ep)
	}
	if ak := os.Getenv(EnvAccessKey); ak != "" {
		v.SetDefault("access_key", ak)
	}
	if sk := os.Getenv(EnvSecretKey); sk != "" {
		v.SetDefault("secret_key", sk)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		binds := map[string]string{
			"pattern":        "pattern",
			"id_pattern":     "id-pattern",
			"bucket":         "bucket",
			"quality":        "quality",
			"no_cleanup":     "no-cleanup",
			"keep_converted": "keep-converted",
			"dry_run":        "dry-run",
			"max_workers":    "max-workers",
			"ledger":         "ledger",
			"log_file":       "log-file",
			"endpoint":       "endpoint",
			"access_key":     "access-key",
			"secret_key":     "secret-key",
			"region":         "region",
			"cache_control":  "cache-control",
		}
		for key, name := range binds {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		ScanDir:         scanDir,
		Pattern:         v.GetString("pattern"),
		IdentityPattern: v.GetString("id_pattern"),
		Quality:         v.GetInt("quality"),
		NoCleanup:       v.GetBool("no_cleanup"),
		KeepConverted:   v.GetBool("keep_converted"),
		DryRun:          v.GetBool("dry_run"),
		MaxWorkers:      v.GetInt("max_workers"),
		LedgerPath:      v.GetString("ledger"),
		LogFile:         v.GetString("log_file"),
		S3: S3Config{
			Endpoint:        v.GetString("endpoint"),
			AccessKeyID:     v.GetString("access_key"),
			SecretAccessKey: v.GetString("secret_key"),
			Region:          v.GetString("region"),
			BucketName:      v.GetString("bucket"),
			CacheControl:    v.GetString("cache_control"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would fail mid-batch. Credential
// checks are skipped in dry-run mode, which never touches the remote store.
func (c *Config) Validate() error {
	if c.ScanDir == "" {
		return fmt.Errorf("scan directory is required")
	}
	if c.S3.BucketName == "" {
		return fmt.Errorf("bucket name is required")
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1, got %d", c.MaxWorkers)
	}
	if !c.DryRun {
		if c.S3.Endpoint == "" || c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "" {
			return fmt.Errorf("endpoint, access key and secret key must be provided via flags, config file or %s/%s/%s",
				EnvEndpoint, EnvAccessKey, EnvSecretKey)
		}
	}
	return nil
}

// DefaultLedgerPath places the ledger beside the binary rather than the
// scan directory, so it persists and is shared across runs regardless of
// which directory is being processed.
func DefaultLedgerPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "imgpipe.db"
	}
	return filepath.Join(filepath.Dir(exe), "imgpipe.db")
}
