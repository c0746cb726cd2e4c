package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/codec"
	"github.com/qri-io/caterva-go/ingest"
	"github.com/qri-io/caterva-go/store"
)

// Config holds catingest settings read from caterva-config.yaml and
// CATERVA_* environment variables
type Config struct {
	StoreDir   string `mapstructure:"store_dir"`
	SourceDir  string `mapstructure:"source_dir"`
	Source     string `mapstructure:"source"`
	Grid       []int  `mapstructure:"grid"`
	Chunks     []int  `mapstructure:"chunks"`
	Blocks     []int  `mapstructure:"blocks"`
	Codec      string `mapstructure:"codec"`
	Clevel     int    `mapstructure:"clevel"`
	Shuffle    bool   `mapstructure:"shuffle"`
	Contiguous bool   `mapstructure:"contiguous"`
	Workers    int    `mapstructure:"workers"`
}

const (
	sourceZarr      = "zarr"
	sourceSynthetic = "synthetic"
)

// LoadConfig reads configuration from path, or searches the default
// locations when path is empty. A missing config file is not an error
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("caterva-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.caterva")
		v.AddConfigPath("/etc/caterva")
	}

	v.SetDefault("store_dir", "./data")
	v.SetDefault("source_dir", "./era5")
	v.SetDefault("source", sourceZarr)
	v.SetDefault("grid", []int{361, 720})
	v.SetDefault("chunks", []int{128, 128, 256})
	v.SetDefault("blocks", []int{16, 32, 64})
	v.SetDefault("codec", codec.Zstd)
	v.SetDefault("clevel", 5)
	v.SetDefault("shuffle", true)
	v.SetDefault("contiguous", true)
	v.SetDefault("workers", 0)

	v.SetEnvPrefix("CATERVA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a command
func (c *Config) Validate() error {
	if _, ok := codec.Registry[c.Codec]; !ok {
		return fmt.Errorf("%w: %q, expected one of %s", codec.ErrUnsupported, c.Codec, strings.Join(codec.IDs(), ", "))
	}
	if len(c.Chunks) != 3 || len(c.Blocks) != 3 {
		return fmt.Errorf("%w: chunks and blocks need 3 extents, got %v and %v", caterva.ErrInvalidLayout, c.Chunks, c.Blocks)
	}
	switch c.Source {
	case sourceZarr:
	case sourceSynthetic:
		if len(c.Grid) != 2 {
			return fmt.Errorf("synthetic grid needs 2 extents, got %v", c.Grid)
		}
	default:
		return fmt.Errorf("unknown source %q, expected %s or %s", c.Source, sourceZarr, sourceSynthetic)
	}
	return nil
}

// Compressor is the block codec configuration
func (c *Config) Compressor() codec.Meta {
	m := codec.Meta{ID: c.Codec, Clevel: c.Clevel}
	if c.Shuffle {
		m.Shuffle = 1
	}
	return m
}

// Options are the container options every command applies
func (c *Config) Options(log zerolog.Logger) []caterva.Option {
	return []caterva.Option{
		caterva.WithCompressor(c.Compressor()),
		caterva.WithContiguous(c.Contiguous),
		caterva.WithWorkers(c.Workers),
		caterva.WithLogger(log),
	}
}

// Store opens the destination store
func (c *Config) Store() (store.Store, error) {
	s, err := store.NewLocalStore(c.StoreDir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewSource opens the configured source of month datasets
func (c *Config) NewSource(log zerolog.Logger) (ingest.Source, error) {
	if c.Source == sourceSynthetic {
		return ingest.NewSyntheticSource(c.Grid[0], c.Grid[1]), nil
	}
	s, err := store.NewLocalStore(c.SourceDir)
	if err != nil {
		return nil, err
	}
	return ingest.NewZarrSource(s, log), nil
}

// Driver wires the destination store and source into an ingest driver
func (c *Config) Driver(log zerolog.Logger) (*ingest.Driver, store.Store, error) {
	s, err := c.Store()
	if err != nil {
		return nil, nil, err
	}
	src, err := c.NewSource(log)
	if err != nil {
		return nil, nil, err
	}
	d := ingest.NewDriver(s, src, ingest.Config{
		ChunkShape: c.Chunks,
		BlockShape: c.Blocks,
		Options:    c.Options(log),
		Log:        log,
	})
	return d, s, nil
}
