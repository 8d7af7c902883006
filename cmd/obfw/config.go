package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ndlib/obfw/dump"
	"github.com/ndlib/obfw/obf"
)

// Config is the contents of the optional configuration file. Command line
// flags override anything set here.
type Config struct {
	Dump    DumpConfig
	Output  OutputConfig
	Catalog CatalogConfig
	Server  ServerConfig
	Sentry  SentryConfig
}

type DumpConfig struct {
	FSTypes   []string `toml:"fs_types"`
	ChunkSize int      `toml:"chunk_size"`
	ItemCount bool     `toml:"item_count"`
	Rate      int64    // bytes per second read from volumes, 0 for no limit
}

type OutputConfig struct {
	Location string
	Key      string
}

// CatalogConfig names at most one database. Leaving both empty disables the
// catalog.
type CatalogConfig struct {
	Mysql string
	Ql    string
}

type ServerConfig struct {
	Port       string
	CacheDir   string `toml:"cache_dir"`
	CacheSize  int64  `toml:"cache_size"` // in MB
	MaxExtract int    `toml:"max_extract"`
}

type SentryConfig struct {
	DSN string `toml:"dsn"`
}

func defaultConfig() *Config {
	return &Config{
		Dump: DumpConfig{
			FSTypes:   append([]string(nil), dump.DefaultFSTypes...),
			ChunkSize: obf.MaxChunk,
		},
		Output: OutputConfig{Key: "firmware.obf"},
		Server: ServerConfig{Port: "14000", MaxExtract: 4},
	}
}

// loadConfig reads the file at path over the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}
	_, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if config.Catalog.Mysql != "" && config.Catalog.Ql != "" {
		return nil, errors.New("config: give only one of catalog.mysql and catalog.ql")
	}
	return config, nil
}
