package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration snapshot built once at start.
// Nothing below the reconciler reads configuration from the environment;
// components receive this struct (or the fields they need) at construction.
type Config struct {
	ClusterID string `yaml:"cluster_id"`

	// Bounds
	MinWorkers int `yaml:"min_workers"`
	MaxWorkers int `yaml:"max_workers"`

	// Cadence and cooldowns
	TickInterval time.Duration `yaml:"tick_interval"`
	CooldownUp   time.Duration `yaml:"cooldown_up"`
	CooldownDown time.Duration `yaml:"cooldown_down"`

	// Reactive thresholds
	CPUUpPct         float64 `yaml:"cpu_up_pct"`
	CPUDownPct       float64 `yaml:"cpu_down_pct"`
	MemUpPct         float64 `yaml:"mem_up_pct"`
	MemDownPct       float64 `yaml:"mem_down_pct"`
	SustainedSamples int     `yaml:"sustained_samples"`
	HistorySize      int     `yaml:"history_size"`

	// Critical thresholds; beyond these the up-cooldown is ignored
	UrgencyCPUPct      float64 `yaml:"urgency_cpu_pct"`
	UrgencyPendingPods int     `yaml:"urgency_pending_pods"`

	// Custom metric thresholds (used when EnableCustomMetrics)
	LatencyP95HighSec float64 `yaml:"latency_p95_high_sec"`
	LatencyP95LowSec  float64 `yaml:"latency_p95_low_sec"`
	ErrorRateHigh     float64 `yaml:"error_rate_high"`
	ErrorRateLow      float64 `yaml:"error_rate_low"`
	QueueDepthHigh    float64 `yaml:"queue_depth_high"`
	QueueDepthLow     float64 `yaml:"queue_depth_low"`

	// Execution deadlines
	JoinDeadline         time.Duration `yaml:"join_deadline"`
	DrainTimeout         time.Duration `yaml:"drain_timeout"`
	LockTTL              time.Duration `yaml:"lock_ttl"`
	MetricsQueryDeadline time.Duration `yaml:"metrics_query_deadline"`

	// Procurement
	SpotPercentage int      `yaml:"spot_percentage"`
	Zones          []string `yaml:"zones"`
	LaunchTemplate string   `yaml:"launch_template"`

	// Feature flags
	EnablePredictive    bool `yaml:"enable_predictive"`
	EnableCustomMetrics bool `yaml:"enable_custom_metrics"`

	// Metrics source
	MetricsURL string            `yaml:"metrics_url"`
	Queries    map[string]string `yaml:"queries"`

	// AWS wiring
	Region       string `yaml:"region"`
	StateTable   string `yaml:"state_table"`
	HistoryTable string `yaml:"history_table"`

	// Secret names resolved at cold start
	JoinTokenSecret    string `yaml:"join_token_secret"`
	WebhookURLSecret   string `yaml:"webhook_url_secret"`
	MetricsCredsSecret string `yaml:"metrics_creds_secret"`

	// Cluster registry access; empty means in-cluster config
	Kubeconfig string `yaml:"kubeconfig"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a config populated with the documented defaults.
// ClusterID has no default and must be supplied.
func Default() Config {
	return Config{
		MinWorkers:           2,
		MaxWorkers:           10,
		TickInterval:         2 * time.Minute,
		CooldownUp:           5 * time.Minute,
		CooldownDown:         10 * time.Minute,
		CPUUpPct:             70,
		CPUDownPct:           30,
		MemUpPct:             75,
		MemDownPct:           50,
		SustainedSamples:     2,
		HistorySize:          10,
		UrgencyCPUPct:        90,
		UrgencyPendingPods:   10,
		LatencyP95HighSec:    2.0,
		LatencyP95LowSec:     0.5,
		ErrorRateHigh:        0.05,
		ErrorRateLow:         0.01,
		QueueDepthHigh:       1000,
		QueueDepthLow:        100,
		JoinDeadline:         5 * time.Minute,
		DrainTimeout:         5 * time.Minute,
		LockTTL:              7 * time.Minute,
		MetricsQueryDeadline: 10 * time.Second,
		SpotPercentage:       70,
		LogLevel:             "info",
		LogJSON:              true,
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// lockMargin is the slack required between the join deadline and the lock
// TTL so a tick that waits out a full join cannot lose the lock mid-flight.
const lockMargin = time.Minute

// Validate checks cross-field constraints. It is the only validation the
// system performs; the decision engine trusts a validated config.
func (c Config) Validate() error {
	if c.ClusterID == "" {
		return fmt.Errorf("cluster_id is required")
	}
	if c.MinWorkers < 0 {
		return fmt.Errorf("min_workers must be >= 0, got %d", c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.MaxWorkers, c.MinWorkers)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if !(c.TickInterval < c.CooldownUp && c.CooldownUp < c.CooldownDown) {
		return fmt.Errorf("require tick_interval < cooldown_up < cooldown_down, got %v, %v, %v",
			c.TickInterval, c.CooldownUp, c.CooldownDown)
	}
	if c.SustainedSamples < 2 {
		return fmt.Errorf("sustained_samples must be >= 2, got %d", c.SustainedSamples)
	}
	if c.HistorySize < 10 || c.HistorySize > 30 {
		return fmt.Errorf("history_size must be in [10, 30], got %d", c.HistorySize)
	}
	if c.SpotPercentage < 0 || c.SpotPercentage > 100 {
		return fmt.Errorf("spot_percentage must be in [0, 100], got %d", c.SpotPercentage)
	}
	if c.CPUDownPct >= c.CPUUpPct {
		return fmt.Errorf("cpu_down_pct (%v) must be below cpu_up_pct (%v)", c.CPUDownPct, c.CPUUpPct)
	}
	if c.MemDownPct >= c.MemUpPct {
		return fmt.Errorf("mem_down_pct (%v) must be below mem_up_pct (%v)", c.MemDownPct, c.MemUpPct)
	}
	// The join wait happens under the lock, so the lock must outlive it.
	if c.LockTTL < c.JoinDeadline+lockMargin {
		return fmt.Errorf("lock_ttl (%v) must be >= join_deadline (%v) + %v", c.LockTTL, c.JoinDeadline, lockMargin)
	}
	if c.MetricsQueryDeadline <= 0 || c.MetricsQueryDeadline > 30*time.Second {
		return fmt.Errorf("metrics_query_deadline must be in (0, 30s], got %v", c.MetricsQueryDeadline)
	}
	if len(c.Zones) == 0 {
		return fmt.Errorf("at least one zone is required")
	}
	return nil
}

// QueryString returns the configured query string for a named query, or the
// name itself when the operator did not override it.
func (c Config) QueryString(name string) string {
	if q, ok := c.Queries[name]; ok {
		return q
	}
	return name
}
