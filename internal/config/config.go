// Package config loads the instrument registry and engine tunables
// THE CORE needs at startup: per-instrument price/lot rules, the
// market-buy reservation policy, executor commit timeouts, and where
// to listen/persist.
//
// Grounded on 0xtitan6-polymarket-mm and VictorVVedtion-perp-dex, both
// of which load their market/instrument configuration through
// spf13/viper rather than hand-rolled flag parsing.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

// InstrumentConfig is one instrument's tradeable rules, exactly as it
// appears in the config file: decimal-valued fields are strings so
// they parse exactly, never through a float.
type InstrumentConfig struct {
	Symbol                 string `mapstructure:"symbol"`
	QuoteCurrency          string `mapstructure:"quoteCurrency"`
	MinPrice               string `mapstructure:"minPrice"`
	MaxPrice               string `mapstructure:"maxPrice"`
	TickSize               string `mapstructure:"tickSize"`
	LotSize                string `mapstructure:"lotSize"`
	MinQuantity            string `mapstructure:"minQuantity"`
	MaxQuantity            string `mapstructure:"maxQuantity"`
	MarketBuyReservation   string `mapstructure:"marketBuyReservation"` // "max_price" | "top_of_book"
	ExecutorQueueDepth     int    `mapstructure:"executorQueueDepth"`
}

// ToDomain parses ic into the domain.Instrument the engine registers.
func (ic InstrumentConfig) ToDomain() (*domain.Instrument, error) {
	parse := func(field, raw string) (decimal.D, error) {
		v, err := decimal.Parse(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("config: instrument %s: %s: %w", ic.Symbol, field, err)
		}
		return v, nil
	}

	minPrice, err := parse("minPrice", ic.MinPrice)
	if err != nil {
		return nil, err
	}
	maxPrice, err := parse("maxPrice", ic.MaxPrice)
	if err != nil {
		return nil, err
	}
	tickSize, err := parse("tickSize", ic.TickSize)
	if err != nil {
		return nil, err
	}
	lotSize, err := parse("lotSize", ic.LotSize)
	if err != nil {
		return nil, err
	}
	minQuantity, err := parse("minQuantity", ic.MinQuantity)
	if err != nil {
		return nil, err
	}
	maxQuantity, err := parse("maxQuantity", ic.MaxQuantity)
	if err != nil {
		return nil, err
	}

	mode := domain.ReserveAtMaxPrice
	if ic.MarketBuyReservation == "top_of_book" {
		mode = domain.ReserveAtTopOfBook
	}

	return &domain.Instrument{
		Symbol:               ic.Symbol,
		QuoteCcy:             ic.QuoteCurrency,
		MinPrice:             minPrice,
		MaxPrice:             maxPrice,
		TickSize:             tickSize,
		LotSize:              lotSize,
		MinQuantity:          minQuantity,
		MaxQuantity:          maxQuantity,
		IsActive:             true,
		MarketBuyReservation: mode,
	}, nil
}

// PostgresConfig carries the persistence port's connection string.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Config is the whole of a running instance's startup configuration.
type Config struct {
	ListenAddress string          `mapstructure:"listenAddress"`
	ListenPort    int             `mapstructure:"listenPort"`
	MetricsPort   int             `mapstructure:"metricsPort"`
	CommitTimeout time.Duration   `mapstructure:"commitTimeout"`
	Instruments   []InstrumentConfig `mapstructure:"instruments"`
	Postgres      PostgresConfig  `mapstructure:"postgres"`
}

// Load reads configPath (any format viper supports: yaml, json, toml)
// and overlays it on top of sane defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listenAddress", "0.0.0.0")
	v.SetDefault("listenPort", 9001)
	v.SetDefault("metricsPort", 9090)
	v.SetDefault("commitTimeout", 2*time.Second)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
