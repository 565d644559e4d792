// Package config loads the replication engine's configuration from a
// YAML file merged with command-line flags, with flags taking
// precedence over file values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Mode mirrors coordinator.Mode as a config-layer string, decoupled
// from the coordinator package so config has no dependency on it.
type Mode string

const (
	ModeAsynchronous Mode = "asynchronous"
	ModeSemiSync     Mode = "semi_sync"
	ModeSynchronous  Mode = "synchronous"
)

// ReplicaConfig describes one participant, primary or replica, read
// from the `replicas:` list in the config file.
type ReplicaConfig struct {
	Name          string `mapstructure:"name" yaml:"name"`
	Role          string `mapstructure:"role" yaml:"role"` // "PRIMARY" or "REPLICA"
	DSN           string `mapstructure:"dsn" yaml:"dsn"`
	Priority      int    `mapstructure:"priority" yaml:"priority"`
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	MaxLagSeconds int    `mapstructure:"max_lag_seconds" yaml:"max_lag_seconds"`
}

// Config is the top-level configuration: acknowledgement policy,
// per-replica worker tuning, the event log's retention window, the
// API listen addresses and auth settings, and the replica topology.
type Config struct {
	Mode                     Mode            `mapstructure:"mode" yaml:"mode"`
	MinReplicasSync          int             `mapstructure:"min_replicas_sync" yaml:"min_replicas_sync"`
	PerReplicaQueueCapacity  int             `mapstructure:"per_replica_queue_capacity" yaml:"per_replica_queue_capacity"`
	PerReplicaAckTimeoutMS   int             `mapstructure:"per_replica_ack_timeout_ms" yaml:"per_replica_ack_timeout_ms"`
	WorkerReconnectBackoffMS int             `mapstructure:"worker_reconnect_backoff_ms" yaml:"worker_reconnect_backoff_ms"`
	WorkerReconnectMaxMS     int             `mapstructure:"worker_reconnect_max_ms" yaml:"worker_reconnect_max_ms"`
	MaxRetries               int             `mapstructure:"max_retries" yaml:"max_retries"`
	EventLogCapacity         int             `mapstructure:"event_log_capacity" yaml:"event_log_capacity"`
	EventLogMaxAgeSeconds    int             `mapstructure:"event_log_max_age_seconds" yaml:"event_log_max_age_seconds"`
	PromotionDrainTimeoutMS  int             `mapstructure:"promotion_drain_timeout_ms" yaml:"promotion_drain_timeout_ms"`
	HTTPListen               string          `mapstructure:"http_listen" yaml:"http_listen"`
	GRPCListen               string          `mapstructure:"grpc_listen" yaml:"grpc_listen"`
	JWTSecret                string          `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	OIDCIssuerURL            string          `mapstructure:"oidc_issuer_url" yaml:"oidc_issuer_url"`
	OIDCClientID             string          `mapstructure:"oidc_client_id" yaml:"oidc_client_id"`
	SyslogAddr               string          `mapstructure:"syslog_addr" yaml:"syslog_addr"`
	Replicas                 []ReplicaConfig `mapstructure:"replicas" yaml:"replicas"`
}

// Default returns the out-of-the-box configuration defaults.
func Default() Config {
	return Config{
		Mode:                     ModeAsynchronous,
		MinReplicasSync:          1,
		PerReplicaQueueCapacity:  10000,
		PerReplicaAckTimeoutMS:   5000,
		WorkerReconnectBackoffMS: 500,
		WorkerReconnectMaxMS:     30000,
		MaxRetries:               3,
		EventLogCapacity:         100000,
		EventLogMaxAgeSeconds:    3600,
		PromotionDrainTimeoutMS:  30000,
		HTTPListen:               ":8080",
		GRPCListen:               ":9090",
	}
}

// RegisterFlags binds the subset of Config an operator commonly
// overrides at the command line; these flags shadow file-provided
// config values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to the YAML config file")
	fs.String("mode", string(d.Mode), "acknowledgement mode: asynchronous|semi_sync|synchronous")
	fs.Int("min-replicas-sync", d.MinReplicasSync, "replicas required to ack in semi_sync mode")
	fs.String("http-listen", d.HTTPListen, "HTTP status/promote API listen address")
	fs.String("grpc-listen", d.GRPCListen, "gRPC/gRPC-web status API listen address")
	fs.String("syslog-addr", d.SyslogAddr, "UDP syslog address to forward logs to, e.g. localhost:514 (disabled if empty)")
}

// Load reads the YAML file named by the --config flag (if any), merges
// pflag overrides on top, and returns the resolved Config.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, val := range map[string]interface{}{
		"mode":                        string(ModeAsynchronous),
		"min_replicas_sync":           1,
		"per_replica_queue_capacity":  10000,
		"per_replica_ack_timeout_ms":  5000,
		"worker_reconnect_backoff_ms": 500,
		"worker_reconnect_max_ms":     30000,
		"max_retries":                 3,
		"event_log_capacity":          100000,
		"event_log_max_age_seconds":   3600,
		"promotion_drain_timeout_ms":  30000,
		"http_listen":                 ":8080",
		"grpc_listen":                 ":9090",
	} {
		v.SetDefault(key, val)
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// Flag names use dashes and config keys use underscores, so each flag
	// is bound under its underscore form.
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return Config{}, fmt.Errorf("config: binding flags: %w", bindErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func (c Config) AckTimeout() time.Duration {
	return time.Duration(c.PerReplicaAckTimeoutMS) * time.Millisecond
}

func (c Config) ReconnectInitial() time.Duration {
	return time.Duration(c.WorkerReconnectBackoffMS) * time.Millisecond
}

func (c Config) ReconnectMax() time.Duration {
	return time.Duration(c.WorkerReconnectMaxMS) * time.Millisecond
}

func (c Config) EventLogMaxAge() time.Duration {
	return time.Duration(c.EventLogMaxAgeSeconds) * time.Second
}

func (c Config) PromotionDrainTimeout() time.Duration {
	return time.Duration(c.PromotionDrainTimeoutMS) * time.Millisecond
}

// DumpYAML renders the resolved configuration back to YAML, redacting
// secrets, for the `repl-engine config` subcommand operators use to
// confirm what a merged file+flags configuration actually resolved to.
func (c Config) DumpYAML() (string, error) {
	redacted := c
	if redacted.JWTSecret != "" {
		redacted.JWTSecret = "********"
	}
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return "", fmt.Errorf("config: marshal: %w", err)
	}
	return string(out), nil
}
