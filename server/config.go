// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2017-2024 The Spacemesh developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/poe/logging"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultRPCPort        = 50102
	defaultRESTPort       = 8180

	defaultMaxClaimLength   = 256
	defaultCacheSize        = 4096
	defaultRedisChannel     = "poe-events"
	defaultKafkaTopic       = "poe-events"
	defaultSubscriberBuffer = 256
)

// Storage backends.
const (
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config defines the configuration options for poe.
//
// See main.go for the order the sources are applied in.
type Config struct {
	PoeDir          string  `long:"poedir"         description:"The base directory that contains poe's data, logs, configuration file, etc."`
	ConfigFile      string  `long:"configfile"     description:"Path to configuration file"                                                  short:"c"`
	DataDir         string  `long:"datadir"        description:"The directory to store poe's data within."                                   short:"b"`
	DbDir           string  `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir          string  `long:"logdir"         description:"Directory to log output."`
	DebugLog        bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog         bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles     int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize  int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	RawRPCListener  string  `long:"rpclisten"      description:"The interface/port/socket to listen for RPC connections"                     short:"r"`
	RawRESTListener string  `long:"restlisten"     description:"The interface/port/socket to listen for REST connections"                    short:"w"`
	MetricsPort     *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Registry RegistryConfig `group:"Registry"`
	Chain    node.Timeline  `group:"Chain"`
	Storage  StorageConfig  `group:"Storage"`
	Events   EventsConfig   `group:"Events"`
}

type RegistryConfig struct {
	MaxClaimLength int `long:"max-claim-length" description:"Maximum fingerprint length in bytes"`
	CacheSize      int `long:"cache-size"       description:"Number of claims kept in memory (0 disables the cache)"`
}

func (c RegistryConfig) Validate() error {
	if c.MaxClaimLength <= 0 || c.MaxClaimLength > registry.MaxFingerprintSize {
		return fmt.Errorf("max-claim-length must be in [1, %d], got %d", registry.MaxFingerprintSize, c.MaxClaimLength)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache-size must not be negative, got %d", c.CacheSize)
	}
	return nil
}

type StorageConfig struct {
	Backend     string `long:"backend"      description:"Claim storage backend (memory keeps chain state and events on disk)" choice:"leveldb" choice:"postgres" choice:"memory"`
	PostgresDSN string `long:"postgres-dsn" description:"PostgreSQL connection string for the postgres backend"`
}

func (c StorageConfig) Validate() error {
	switch c.Backend {
	case BackendLevelDB, BackendMemory:
		return nil
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres-dsn is required by the %s backend", BackendPostgres)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

type EventsConfig struct {
	RedisURL         string   `long:"redis-url"         description:"Publish events to this Redis server"`
	RedisChannel     string   `long:"redis-channel"     description:"Redis channel for events"`
	KafkaBrokers     []string `long:"kafka-brokers"     description:"Produce events to these Kafka seed brokers"`
	KafkaTopic       string   `long:"kafka-topic"       description:"Kafka topic for events"`
	SubscriberBuffer int      `long:"subscriber-buffer" description:"Events buffered per streaming subscriber"`
	LogEvents        bool     `long:"log-events"        description:"Log every event"`
}

// implement zap.ObjectMarshaler interface.
func (c EventsConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("redis-channel", c.RedisChannel)
	enc.AddBool("redis", c.RedisURL != "")
	enc.AddString("kafka-topic", c.KafkaTopic)
	enc.AddInt("kafka-brokers", len(c.KafkaBrokers))
	enc.AddInt("subscriber-buffer", c.SubscriberBuffer)
	return nil
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	poeDir := "./poe"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		poeDir = filepath.Join(cacheDir, "poe")
	}

	return &Config{
		PoeDir:          poeDir,
		DataDir:         filepath.Join(poeDir, defaultDataDirname),
		DbDir:           filepath.Join(poeDir, defaultDbDirName),
		LogDir:          filepath.Join(poeDir, defaultLogDirname),
		MaxLogFiles:     defaultMaxLogFiles,
		MaxLogFileSize:  defaultMaxLogFileSize,
		RawRPCListener:  fmt.Sprintf("localhost:%d", defaultRPCPort),
		RawRESTListener: fmt.Sprintf("localhost:%d", defaultRESTPort),
		Registry: RegistryConfig{
			MaxClaimLength: defaultMaxClaimLength,
			CacheSize:      defaultCacheSize,
		},
		Storage: StorageConfig{Backend: BackendLevelDB},
		Events: EventsConfig{
			RedisChannel:     defaultRedisChannel,
			KafkaTopic:       defaultKafkaTopic,
			SubscriberBuffer: defaultSubscriberBuffer,
		},
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths, validates the groups and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}

	// Paths left at their defaults follow a non-default poe directory.
	defaultCfg := DefaultConfig()
	if cfg.PoeDir != defaultCfg.PoeDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.PoeDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.PoeDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.PoeDir, defaultDbDirName)
		}
	}

	if err := os.MkdirAll(cfg.PoeDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.PoeDir, err)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
