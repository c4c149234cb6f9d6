// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads labctld's daemon configuration from a YAML file
// on a virtual filesystem, so tests can supply an in-memory one instead
// of touching disk (spec §9 "ambient stack").
package config

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the persistence backend (spec §8,
// store.OpenSQLite vs store.OpenDqlite).
type StoreConfig struct {
	Driver  string   `yaml:"driver"`   // "sqlite" or "dqlite"
	Path    string   `yaml:"path"`     // sqlite file, or dqlite data dir
	Cluster []string `yaml:"cluster"`  // dqlite peer addresses
	NodeID  uint64   `yaml:"node_id"`  // dqlite node ID
}

// SchedulerConfig tunes the task runtime's worker pool (spec §4.3).
type SchedulerConfig struct {
	Workers          int `yaml:"workers"`
	AsyncParallelism int `yaml:"async_parallelism"`
}

// IPMIConfig tunes the BMC driver's rate limiter (spec §4.7).
type IPMIConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// NetworkConfig configures switch reconfiguration concurrency (spec
// §4.8) and the SSH-pushed PXE artifact destination (spec §4.9).
type NetworkConfig struct {
	MaxSwitchLocks int    `yaml:"max_switch_locks"`
	SFTPAddr       string `yaml:"sftp_addr"`
	SFTPUser       string `yaml:"sftp_user"`
	SFTPKeyPath    string `yaml:"sftp_key_path"`
	TFTPRoot       string `yaml:"tftp_root"`
	CobblerRPCAddr string `yaml:"cobbler_rpc_addr"`
}

// MailboxConfig configures the host-reported-milestone HTTP rendezvous
// (spec §4.9 "mailbox").
type MailboxConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// SweepConfig tunes the periodic expiring-booking notifier (spec §6).
type SweepConfig struct {
	Schedule      string `yaml:"schedule"`
	WarnBeforeMin int    `yaml:"warn_before_minutes"`
}

// TelemetryConfig tunes the Prometheus metrics listener and the OTLP
// trace exporter (spec §3 "Metrics"/"Tracing").
type TelemetryConfig struct {
	MetricsAddr  string `yaml:"metrics_addr"`
	TracingOn    bool   `yaml:"tracing_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// DHCPConfig names the interface the lease-observer listens on (spec
// §3 "DHCP lease observation").
type DHCPConfig struct {
	Interface string `yaml:"interface"`
}

// Config is labctld's full daemon configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	LogLevel   string          `yaml:"log_level"`
	LogJSON    bool            `yaml:"log_json"`
	Store      StoreConfig     `yaml:"store"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	IPMI       IPMIConfig      `yaml:"ipmi"`
	Network    NetworkConfig   `yaml:"network"`
	Mailbox    MailboxConfig   `yaml:"mailbox"`
	Sweep      SweepConfig     `yaml:"sweep"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	DHCP       DHCPConfig      `yaml:"dhcp"`
}

// Defaults returns a Config usable as-is for a single-node sqlite
// development instance.
func Defaults() Config {
	return Config{
		ListenAddr: "127.0.0.1:8443",
		LogLevel:   "info",
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "labctld.db",
		},
		Scheduler: SchedulerConfig{
			Workers:          8,
			AsyncParallelism: 32,
		},
		IPMI: IPMIConfig{
			RatePerSecond: 2,
			Burst:         4,
		},
		Network: NetworkConfig{
			MaxSwitchLocks: 256,
			TFTPRoot:       "/srv/tftp",
		},
		Mailbox: MailboxConfig{
			ListenAddr: "127.0.0.1:8444",
		},
		Sweep: SweepConfig{
			Schedule:      "@every 5m",
			WarnBeforeMin: 60,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "127.0.0.1:9090",
		},
		DHCP: DHCPConfig{
			Interface: "eth0",
		},
	}
}

// Load reads and parses the YAML config at path on fs, starting from
// Defaults so an operator's file only needs to override what differs.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Defaults()

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects a Config the daemon could not start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "dqlite":
	default:
		return fmt.Errorf("store.driver must be \"sqlite\" or \"dqlite\", got %q", c.Store.Driver)
	}

	if c.Store.Driver == "dqlite" && len(c.Store.Cluster) == 0 {
		return fmt.Errorf("store.cluster must name at least one peer when store.driver is dqlite")
	}

	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}

	if c.Mailbox.PublicBaseURL == "" {
		return fmt.Errorf("mailbox.public_base_url is required")
	}

	return nil
}
