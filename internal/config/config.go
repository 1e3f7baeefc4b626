// Package config builds the runtime Config for the ingestion pipeline:
// typed defaults overridden field-by-field from the environment. There is
// no file-based loader here — the CLI and any file format it supports are
// external collaborators (see cmd/vote-latency-monitor).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/verrors"
)

const envPrefix = "VLM"

// Config aggregates every tunable named in the external-interfaces surface.
type Config struct {
	Network string

	RPC        RPCConfig
	PushFeed   PushFeedConfig
	Discovery  DiscoveryConfig
	Stream     StreamConfig
	WritePipe  WritePipeConfig
	Latency    LatencyConfig
	Metrics    MetricsConfig
	LogLevel   string
	ShutdownGrace time.Duration
}

type RPCConfig struct {
	URL     string
	Timeout time.Duration
}

type PushFeedConfig struct {
	URL              string
	Token            string
	ConnectTimeout   time.Duration
	KeepaliveTimeout time.Duration
}

type DiscoveryConfig struct {
	RefreshInterval    time.Duration
	MinStakeLamports   uint64
	Whitelist          []string
	Blacklist          []string
	IncludeDelinquent  bool
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	BackoffFactor      float64
	BackoffJitterFrac  float64
	MaxRetriesPerCycle int
}

type StreamConfig struct {
	MaxSubscriptions int
	BufferSize       int
	StallTimeout     time.Duration
	ReconfigWindow   time.Duration
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	BackoffFactor    float64
}

type WritePipeConfig struct {
	QueueCapacity    int
	BatchSize        int
	FlushInterval    time.Duration
	DedupCapacity    int
	EnqueueTimeout   time.Duration
	NumWorkers       int
	RetryBase        time.Duration
	RetryCap         time.Duration
	RetryFactor      float64
	RetryJitterFrac  float64
	MaxAttempts      int
	StoreFatalWindow time.Duration
	StoreBackend     string // "influxdb3" or "clickhouse"
	ShutdownGrace    time.Duration
}

type LatencyConfig struct {
	WindowSize int
}

type MetricsConfig struct {
	BindAddr string
}

// Default returns the configuration defaults named throughout §4 before any
// environment override is applied.
func Default() *Config {
	return &Config{
		Network: "mainnet-beta",
		RPC: RPCConfig{
			Timeout: 30 * time.Second,
		},
		PushFeed: PushFeedConfig{
			ConnectTimeout:   30 * time.Second,
			KeepaliveTimeout: 60 * time.Second,
		},
		Discovery: DiscoveryConfig{
			RefreshInterval:    3600 * time.Second,
			IncludeDelinquent:  true,
			BackoffBase:        time.Second,
			BackoffCap:         60 * time.Second,
			BackoffFactor:      2,
			BackoffJitterFrac:  0.25,
			MaxRetriesPerCycle: 5,
		},
		Stream: StreamConfig{
			MaxSubscriptions: 50,
			BufferSize:       10000,
			StallTimeout:     30 * time.Second,
			ReconfigWindow:   5 * time.Second,
			BackoffBase:      time.Second,
			BackoffCap:       60 * time.Second,
			BackoffFactor:    2,
		},
		WritePipe: WritePipeConfig{
			QueueCapacity:    65536,
			BatchSize:        5000,
			FlushInterval:    100 * time.Millisecond,
			DedupCapacity:    10000,
			EnqueueTimeout:   5 * time.Second,
			NumWorkers:       2,
			RetryBase:        250 * time.Millisecond,
			RetryCap:         30 * time.Second,
			RetryFactor:      2,
			RetryJitterFrac:  0.20,
			MaxAttempts:      5,
			StoreFatalWindow: 10 * time.Minute,
			StoreBackend:     "influxdb3",
			ShutdownGrace:    30 * time.Second,
		},
		Latency: LatencyConfig{
			WindowSize: 100,
		},
		Metrics: MetricsConfig{
			BindAddr: "127.0.0.1:2113",
		},
		LogLevel:      "info",
		ShutdownGrace: 30 * time.Second,
	}
}

// ApplyEnvOverrides overrides fields from VLM_<SECTION>_<NAME> variables,
// matching the override-by-lookup style of config.NetworkConfigForEnv.
func (c *Config) ApplyEnvOverrides() {
	str(&c.Network, "NETWORK")
	str(&c.LogLevel, "LOG_LEVEL")
	dur(&c.ShutdownGrace, "SHUTDOWN_GRACE")

	str(&c.RPC.URL, "RPC_URL")
	dur(&c.RPC.Timeout, "RPC_TIMEOUT")

	str(&c.PushFeed.URL, "PUSHFEED_URL")
	str(&c.PushFeed.Token, "PUSHFEED_TOKEN")
	dur(&c.PushFeed.ConnectTimeout, "PUSHFEED_CONNECT_TIMEOUT")
	dur(&c.PushFeed.KeepaliveTimeout, "PUSHFEED_KEEPALIVE_TIMEOUT")

	dur(&c.Discovery.RefreshInterval, "DISCOVERY_REFRESH_INTERVAL")
	u64(&c.Discovery.MinStakeLamports, "DISCOVERY_MIN_STAKE_LAMPORTS")
	csv(&c.Discovery.Whitelist, "DISCOVERY_WHITELIST")
	csv(&c.Discovery.Blacklist, "DISCOVERY_BLACKLIST")
	boolean(&c.Discovery.IncludeDelinquent, "DISCOVERY_INCLUDE_DELINQUENT")

	ival(&c.Stream.MaxSubscriptions, "STREAM_MAX_SUBSCRIPTIONS")
	ival(&c.Stream.BufferSize, "STREAM_BUFFER_SIZE")
	dur(&c.Stream.StallTimeout, "STREAM_STALL_TIMEOUT")

	ival(&c.WritePipe.QueueCapacity, "WRITEPIPE_QUEUE_CAPACITY")
	ival(&c.WritePipe.BatchSize, "WRITEPIPE_BATCH_SIZE")
	dur(&c.WritePipe.FlushInterval, "WRITEPIPE_FLUSH_INTERVAL")
	ival(&c.WritePipe.DedupCapacity, "WRITEPIPE_DEDUP_CAPACITY")
	ival(&c.WritePipe.NumWorkers, "WRITEPIPE_NUM_WORKERS")
	str(&c.WritePipe.StoreBackend, "WRITEPIPE_STORE_BACKEND")
	dur(&c.WritePipe.ShutdownGrace, "WRITEPIPE_SHUTDOWN_GRACE")

	ival(&c.Latency.WindowSize, "LATENCY_WINDOW_SIZE")
	str(&c.Metrics.BindAddr, "METRICS_BIND_ADDR")
}

// Validate fails fast on the first structurally invalid field, matching
// RunnerConfig.Validate()/gnmitunnel's Config.validate() style.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "rpc url is required", nil)
	}
	if _, err := url.Parse(c.RPC.URL); err != nil {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "rpc url is invalid", err)
	}
	if c.PushFeed.URL == "" {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "push feed url is required", nil)
	}
	u, err := url.Parse(c.PushFeed.URL)
	if err != nil {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "push feed url is invalid", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "push feed url scheme must be http or https", nil)
	}
	if c.Stream.MaxSubscriptions <= 0 {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "stream.max_subscriptions must be positive", nil)
	}
	if c.WritePipe.BatchSize <= 0 || c.WritePipe.QueueCapacity <= 0 {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "write pipeline queue/batch sizes must be positive", nil)
	}
	if c.WritePipe.DedupCapacity <= 0 {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "write pipeline dedup capacity must be positive", nil)
	}
	if c.WritePipe.NumWorkers <= 0 {
		return verrors.New(verrors.KindConfiguration, "config.Validate", "write pipeline num_workers must be positive", nil)
	}
	switch c.WritePipe.StoreBackend {
	case "influxdb3", "clickhouse":
	default:
		return verrors.New(verrors.KindConfiguration, "config.Validate", fmt.Sprintf("unknown store backend %q", c.WritePipe.StoreBackend), nil)
	}
	return nil
}

func str(dst *string, name string) {
	if v, ok := os.LookupEnv(envPrefix + "_" + name); ok {
		*dst = v
	}
}

func boolean(dst *bool, name string) {
	if v, ok := os.LookupEnv(envPrefix + "_" + name); ok {
		*dst = v == "1" || strings.EqualFold(v, "true")
	}
}

func ival(dst *int, name string) {
	if v, ok := os.LookupEnv(envPrefix + "_" + name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func u64(dst *uint64, name string) {
	if v, ok := os.LookupEnv(envPrefix + "_" + name); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func dur(dst *time.Duration, name string) {
	if v, ok := os.LookupEnv(envPrefix + "_" + name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func csv(dst *[]string, name string) {
	if v, ok := os.LookupEnv(envPrefix + "_" + name); ok {
		if v == "" {
			*dst = nil
			return
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}
