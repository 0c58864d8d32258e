package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

func TestReadingNonExistingConfigFile(t *testing.T) {
	cfg := Config{
		ConfigFile: "non-existing-file",
	}
	_, err := ReadConfigFile(&cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigFile = filepath.Join(dir, "config.ini")
	ini := `datadir = /tmp
[Registry]
max-claim-length = 64
[Chain]
genesis-time = 2024-01-02T03:04:05Z
block-time = 10s
[Storage]
backend = memory
[Events]
kafka-brokers = a:9092
kafka-brokers = b:9092
`
	require.NoError(t, os.WriteFile(cfg.ConfigFile, []byte(ini), 0o600))

	cfg, err := ReadConfigFile(cfg)
	require.NoError(t, err)
	require.Equal(t, "/tmp", cfg.DataDir)
	require.Equal(t, 64, cfg.Registry.MaxClaimLength)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), cfg.Chain.Genesis.Time())
	require.Equal(t, 10*time.Second, cfg.Chain.BlockTime)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.Events.KafkaBrokers)
	require.Equal(t, defaultKafkaTopic, cfg.Events.KafkaTopic)
}

func TestReadConfigFilePathNotSet(t *testing.T) {
	cfg, err := ReadConfigFile(&Config{})
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)
}

func TestParseFlagsOverridesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	_, err := flags.ParseArgs(cfg, []string{
		"--max-claim-length", "32",
		"--backend", "postgres",
		"--postgres-dsn", "postgres://localhost/poe",
		"--block-time", "1m",
	})
	require.NoError(t, err)
	require.Equal(t, 32, cfg.Registry.MaxClaimLength)
	require.Equal(t, defaultCacheSize, cfg.Registry.CacheSize)
	require.Equal(t, BackendPostgres, cfg.Storage.Backend)
	require.Equal(t, time.Minute, cfg.Chain.BlockTime)

	_, err = flags.ParseArgs(DefaultConfig(), []string{"--backend", "sqlite"})
	require.Error(t, err)
}

func TestSetupConfig(t *testing.T) {
	t.Run("paths follow poedir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PoeDir = t.TempDir()
		cfg, err := SetupConfig(cfg)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(cfg.PoeDir, defaultDataDirname), cfg.DataDir)
		require.Equal(t, filepath.Join(cfg.PoeDir, defaultDbDirName), cfg.DbDir)
		require.Equal(t, filepath.Join(cfg.PoeDir, defaultLogDirname), cfg.LogDir)
	})
	t.Run("invalid max claim length", func(t *testing.T) {
		for _, length := range []int{0, -1, 1<<16 + 1} {
			cfg := DefaultConfig()
			cfg.PoeDir = t.TempDir()
			cfg.Registry.MaxClaimLength = length
			_, err := SetupConfig(cfg)
			require.Error(t, err)
		}
	})
	t.Run("postgres requires dsn", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PoeDir = t.TempDir()
		cfg.Storage.Backend = BackendPostgres
		_, err := SetupConfig(cfg)
		require.Error(t, err)
	})
}
