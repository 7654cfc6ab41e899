package config

import (
	"fmt"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/shopspring/decimal"
	"github.com/web3ekko/ekko-pulse/pkg/decoder"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "EKKO_PULSE"

// Engine holds the options of the ingestion engine.
type Engine struct {
	Network                 string        `conf:"default:testnet"`
	MonitoredTokenAddress   string        `conf:"help:ERC-20 contract to monitor instead of native transfers"`
	MinimumAlertAmount      string        `conf:"default:0.0005"`
	OnlyTransfers           bool          `conf:"help:only transfers at or above the minimum raise alerts"`
	AutoStart               bool          `conf:"default:true"`
	StaggerInterval         time.Duration `conf:"default:600ms"`
	FeedRetentionSize       int           `conf:"default:100"`
	RollingWindowSize       int           `conf:"default:10"`
	MaxTransactionsPerBlock int           `conf:"default:10"`
	RequestTimeout          time.Duration `conf:"default:10s"`
	PollInterval            time.Duration `conf:"default:1s"`
	HeadQueueSize           int           `conf:"default:16"`
	FetchConcurrency        int           `conf:"default:4"`
	ReconnectDelay          time.Duration `conf:"default:5s"`
}

// DefaultEngine returns the engine options with their default values.
func DefaultEngine() Engine {
	return Engine{
		Network:                 "testnet",
		MinimumAlertAmount:      "0.0005",
		AutoStart:               true,
		StaggerInterval:         600 * time.Millisecond,
		FeedRetentionSize:       100,
		RollingWindowSize:       10,
		MaxTransactionsPerBlock: 10,
		RequestTimeout:          10 * time.Second,
		PollInterval:            time.Second,
		HeadQueueSize:           16,
		FetchConcurrency:        4,
		ReconnectDelay:          5 * time.Second,
	}
}

// MinimumAmount parses MinimumAlertAmount.
func (e Engine) MinimumAmount() (decimal.Decimal, error) {
	d, err := decoder.ParseAmount(e.MinimumAlertAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("minimum alert amount %q: %w", e.MinimumAlertAmount, err)
	}
	return d, nil
}

// Validate rejects options the engine cannot run with.
func (e Engine) Validate() error {
	if e.Network == "" {
		return fmt.Errorf("network is required")
	}
	d, err := e.MinimumAmount()
	if err != nil {
		return err
	}
	if d.IsNegative() {
		return fmt.Errorf("minimum alert amount must not be negative")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"feed retention size", e.FeedRetentionSize},
		{"rolling window size", e.RollingWindowSize},
		{"max transactions per block", e.MaxTransactionsPerBlock},
		{"head queue size", e.HeadQueueSize},
		{"fetch concurrency", e.FetchConcurrency},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"stagger interval", e.StaggerInterval},
		{"request timeout", e.RequestTimeout},
		{"poll interval", e.PollInterval},
		{"reconnect delay", e.ReconnectDelay},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}

// Config is the full service configuration.
type Config struct {
	conf.Version
	Web struct {
		ReadTimeout     time.Duration `conf:"default:5s"`
		WriteTimeout    time.Duration `conf:"default:10s"`
		IdleTimeout     time.Duration `conf:"default:120s"`
		ShutdownTimeout time.Duration `conf:"default:20s"`
		APIHost         string        `conf:"default:0.0.0.0:8080"`
		DebugHost       string        `conf:"default:0.0.0.0:7080"`
		CorsOrigin      string        `conf:"default:*"`
	}
	Engine   Engine
	Networks struct {
		File string `conf:"help:YAML file adding or overriding networks"`
	}
	NATS struct {
		URL           string `conf:"help:empty disables the NATS sink"`
		SubjectPrefix string `conf:"default:ekko.pulse"`
	}
	Redis struct {
		Addr        string        `conf:"help:empty disables the Redis sink"`
		Password    string        `conf:"mask"`
		DB          int           `conf:"default:0"`
		KeyPrefix   string        `conf:"default:pulse"`
		SnapshotTTL time.Duration `conf:"default:5m"`
	}
	Metrics struct {
		Namespace string `conf:"default:ekko_pulse"`
	}
	Log struct {
		Level string `conf:"default:info"`
	}
}

// Parse sets the defaults and then applies environment variables and
// command line flags. The returned help text is non-empty when the caller
// asked for usage or version output.
func Parse(build string) (Config, string, error) {
	cfg := Config{
		Version: conf.Version{
			Build: build,
			Desc:  "ekko-pulse live block ingestion and transaction classification",
		},
	}
	help, err := conf.Parse(Prefix, &cfg)
	if err != nil {
		return cfg, help, err
	}
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, "", fmt.Errorf("engine config: %w", err)
	}
	return cfg, "", nil
}
