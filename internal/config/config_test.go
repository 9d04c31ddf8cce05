package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	f := pflag.NewFlagSet("imgpipe", pflag.ContinueOnError)
	f.String("pattern", DefaultPattern, "")
	f.String("bucket", "", "")
	f.Int("quality", DefaultQuality, "")
	f.Bool("dry-run", false, "")
	f.Int("max-workers", DefaultMaxWorkers, "")
	f.String("endpoint", "", "")
	f.String("access-key", "", "")
	f.String("secret-key", "", "")
	return f
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgpipe.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_EnvironmentIsLowestPriority(t *testing.T) {
	t.Setenv(EnvEndpoint, "https://env.example.com")
	t.Setenv(EnvAccessKey, "env-access")
	t.Setenv(EnvSecretKey, "env-secret")

	flags := newFlags()
	require.NoError(t, flags.Set("bucket", "b"))

	cfg, err := Load(t.TempDir(), "", flags)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.S3.Endpoint)
	assert.Equal(t, "env-access", cfg.S3.AccessKeyID)
	assert.Equal(t, "env-secret", cfg.S3.SecretAccessKey)
}

func TestLoad_ConfigFileOverridesEnvironment(t *testing.T) {
	t.Setenv(EnvEndpoint, "https://env.example.com")
	t.Setenv(EnvAccessKey, "env-access")
	t.Setenv(EnvSecretKey, "env-secret")

	file := writeConfigFile(t, `{
		"endpoint": "https://file.example.com",
		"bucket": "file-bucket",
		"quality": 70
	}`)

	cfg, err := Load(t.TempDir(), file, newFlags())
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.S3.Endpoint)
	assert.Equal(t, "file-bucket", cfg.S3.BucketName)
	assert.Equal(t, 70, cfg.Quality)
	// Keys absent from the file still come from the environment.
	assert.Equal(t, "env-access", cfg.S3.AccessKeyID)
}

func TestLoad_FlagsOverrideConfigFile(t *testing.T) {
	t.Setenv(EnvAccessKey, "env-access")
	t.Setenv(EnvSecretKey, "env-secret")

	file := writeConfigFile(t, `{
		"endpoint": "https://file.example.com",
		"bucket": "file-bucket",
		"quality": 70
	}`)

	flags := newFlags()
	require.NoError(t, flags.Set("endpoint", "https://flag.example.com"))
	require.NoError(t, flags.Set("quality", "95"))

	cfg, err := Load(t.TempDir(), file, flags)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example.com", cfg.S3.Endpoint)
	assert.Equal(t, 95, cfg.Quality)
	assert.Equal(t, "file-bucket", cfg.S3.BucketName)
}

func TestLoad_UnchangedFlagDefaultsDoNotMaskDefaults(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Set("bucket", "b"))
	require.NoError(t, flags.Set("dry-run", "true"))

	cfg, err := Load(t.TempDir(), "", flags)
	require.NoError(t, err)

	assert.Equal(t, DefaultPattern, cfg.Pattern)
	assert.Equal(t, DefaultQuality, cfg.Quality)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ScanDir:    "/tmp/scan",
			Quality:    85,
			MaxWorkers: 4,
			S3: S3Config{
				BucketName:      "bucket",
				Endpoint:        "https://ep",
				AccessKeyID:     "ak",
				SecretAccessKey: "sk",
			},
		}
	}

	assert.NoError(t, base().Validate())

	c := base()
	c.S3.BucketName = ""
	assert.Error(t, c.Validate())

	c = base()
	c.Quality = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Quality = 101
	assert.Error(t, c.Validate())

	c = base()
	c.MaxWorkers = 0
	assert.Error(t, c.Validate())

	// Missing credentials fail before any processing begins.
	c = base()
	c.S3.SecretAccessKey = ""
	assert.Error(t, c.Validate())

	// Dry runs do not require credentials.
	c = base()
	c.S3 = S3Config{BucketName: "bucket"}
	c.DryRun = true
	assert.NoError(t, c.Validate())
}

func TestLoad_MissingCredentialsFailFast(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Set("bucket", "b"))

	_, err := Load(t.TempDir(), "", flags)
	assert.Error(t, err)
}
