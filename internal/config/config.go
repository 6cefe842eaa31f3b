// Package config builds the immutable run configuration for the monitor.
// Values come from defaults, overlaid by an optional YAML file, overlaid by
// environment variables, and are validated once at startup. Nothing reads
// configuration ambiently after that.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Environment variable names recognized by Load.
const (
	EnvRegion           = "AWS_DEFAULT_REGION"
	EnvAccountID        = "AWS_ACCOUNT_ID"
	EnvQueueNames       = "SQS_QUEUE_NAMES"
	EnvDLQNames         = "SQS_DLQ_NAMES"
	EnvFunctionNames    = "LAMBDA_FUNCTION_NAMES"
	EnvQueueInterval    = "QUEUE_POLL_INTERVAL_SECONDS"
	EnvFunctionInterval = "LAMBDA_MONITOR_INTERVAL_SECONDS"
	EnvMetricPeriod     = "LAMBDA_METRIC_PERIOD_MINUTES"
	EnvMaxDLQMessages   = "DLQ_MAX_MESSAGES"
	EnvExportPath       = "LOG_FILE_PATH"
	EnvSaveToLog        = "SAVE_TO_LOG"
)

// Resource names one monitored queue, DLQ or function. Handle carries the
// provider-specific identifier (a queue URL, a function name); when empty it
// is derived from Name at registry construction.
type Resource struct {
	Name   string `yaml:"name"`
	Handle string `yaml:"handle,omitempty"`
}

// Config is the complete, immutable run configuration.
type Config struct {
	Region    string
	AccountID string

	Queues    []Resource
	DLQs      []Resource
	Functions []Resource

	// QueueInterval is the polling cadence for queue depths.
	QueueInterval time.Duration
	// FunctionInterval is the polling cadence for function metrics. May be
	// slower than QueueInterval; never faster.
	FunctionInterval time.Duration
	// MetricPeriod is the trailing window over which function metrics are
	// aggregated.
	MetricPeriod time.Duration
	// FetchTimeout bounds every individual provider call.
	FetchTimeout time.Duration

	// TransientRetries is the number of in-tick retries after a transient
	// provider failure.
	TransientRetries int

	// MaxDLQMessages bounds one DLQ sampling pass per queue per tick.
	MaxDLQMessages int
	// DLQCallBudget caps receive calls per sampling pass. Zero derives the
	// budget from MaxDLQMessages.
	DLQCallBudget int
	// RedactionLimit is the maximum body length kept in a DLQ record before
	// truncation.
	RedactionLimit int

	// ExportPath, when set, appends one JSON document per cycle to the file.
	ExportPath string
	SaveToLog  bool
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Region:           "us-east-1",
		QueueInterval:    10 * time.Second,
		FunctionInterval: 10 * time.Second,
		MetricPeriod:     5 * time.Minute,
		FetchTimeout:     30 * time.Second,
		TransientRetries: 2,
		MaxDLQMessages:   20,
		RedactionLimit:   256,
		ExportPath:       "queuepulse_monitoring.log",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// Function metrics never need a faster cadence than queue depths; lift
	// the function interval instead of failing when only queueInterval was
	// tuned.
	if cfg.FunctionInterval < cfg.QueueInterval {
		cfg.FunctionInterval = cfg.QueueInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileOverlay is the YAML shape of the config file. Durations are strings in
// time.ParseDuration syntax; scalars are pointers so an absent key leaves the
// default untouched.
type fileOverlay struct {
	Region    string     `yaml:"region"`
	AccountID string     `yaml:"accountId"`
	Queues    []Resource `yaml:"queues"`
	DLQs      []Resource `yaml:"dlqs"`
	Functions []Resource `yaml:"functions"`

	QueueInterval    string `yaml:"queueInterval"`
	FunctionInterval string `yaml:"functionInterval"`
	MetricPeriod     string `yaml:"metricPeriod"`
	FetchTimeout     string `yaml:"fetchTimeout"`

	TransientRetries *int `yaml:"transientRetries"`
	MaxDLQMessages   *int `yaml:"maxDLQMessages"`
	DLQCallBudget    *int `yaml:"dlqCallBudget"`
	RedactionLimit   *int `yaml:"redactionLimit"`

	ExportPath *string `yaml:"exportPath"`
	SaveToLog  *bool   `yaml:"saveToLog"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if overlay.Region != "" {
		c.Region = overlay.Region
	}
	if overlay.AccountID != "" {
		c.AccountID = overlay.AccountID
	}
	if overlay.Queues != nil {
		c.Queues = overlay.Queues
	}
	if overlay.DLQs != nil {
		c.DLQs = overlay.DLQs
	}
	if overlay.Functions != nil {
		c.Functions = overlay.Functions
	}

	durations := []struct {
		key   string
		raw   string
		field *time.Duration
	}{
		{"queueInterval", overlay.QueueInterval, &c.QueueInterval},
		{"functionInterval", overlay.FunctionInterval, &c.FunctionInterval},
		{"metricPeriod", overlay.MetricPeriod, &c.MetricPeriod},
		{"fetchTimeout", overlay.FetchTimeout, &c.FetchTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config file %s: %s: %w", path, d.key, err)
		}
		*d.field = parsed
	}

	if overlay.TransientRetries != nil {
		c.TransientRetries = *overlay.TransientRetries
	}
	if overlay.MaxDLQMessages != nil {
		c.MaxDLQMessages = *overlay.MaxDLQMessages
	}
	if overlay.DLQCallBudget != nil {
		c.DLQCallBudget = *overlay.DLQCallBudget
	}
	if overlay.RedactionLimit != nil {
		c.RedactionLimit = *overlay.RedactionLimit
	}
	if overlay.ExportPath != nil {
		c.ExportPath = *overlay.ExportPath
	}
	if overlay.SaveToLog != nil {
		c.SaveToLog = *overlay.SaveToLog
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRegion); v != "" {
		c.Region = v
	}
	if v := os.Getenv(EnvAccountID); v != "" {
		c.AccountID = v
	}
	if rs := splitResourceList(os.Getenv(EnvQueueNames)); len(rs) > 0 {
		c.Queues = rs
	}
	if rs := splitResourceList(os.Getenv(EnvDLQNames)); len(rs) > 0 {
		c.DLQs = rs
	}
	if rs := splitResourceList(os.Getenv(EnvFunctionNames)); len(rs) > 0 {
		c.Functions = rs
	}
	if d, ok := envSeconds(EnvQueueInterval); ok {
		c.QueueInterval = d
	}
	if d, ok := envSeconds(EnvFunctionInterval); ok {
		c.FunctionInterval = d
	}
	if v := os.Getenv(EnvMetricPeriod); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MetricPeriod = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv(EnvMaxDLQMessages); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxDLQMessages = n
		}
	}
	if v := os.Getenv(EnvExportPath); v != "" {
		c.ExportPath = v
	}
	if v := os.Getenv(EnvSaveToLog); v != "" {
		c.SaveToLog = strings.EqualFold(v, "true")
	}
}

// Validate aggregates every configuration problem into one error so the
// operator sees all of them at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Region == "" {
		problems = append(problems, "region must not be empty")
	}
	if c.QueueInterval <= 0 {
		problems = append(problems, "queueInterval must be positive")
	}
	if c.FunctionInterval < c.QueueInterval {
		problems = append(problems, "functionInterval must not be shorter than queueInterval")
	}
	if c.MetricPeriod <= 0 {
		problems = append(problems, "metricPeriod must be positive")
	}
	if c.FetchTimeout <= 0 {
		problems = append(problems, "fetchTimeout must be positive")
	}
	if c.TransientRetries < 0 {
		problems = append(problems, "transientRetries must not be negative")
	}
	if c.MaxDLQMessages <= 0 {
		problems = append(problems, "maxDLQMessages must be positive")
	}
	if c.DLQCallBudget < 0 {
		problems = append(problems, "dlqCallBudget must not be negative")
	}
	if c.RedactionLimit <= 0 {
		problems = append(problems, "redactionLimit must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// QueueURL derives the standard queue URL for a queue name in this account
// and region.
func (c *Config) QueueURL(name string) string {
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", c.Region, c.AccountID, name)
}

// EffectiveDLQCallBudget returns the configured receive-call budget, or the
// derived default: enough calls to fill MaxDLQMessages plus slack for short
// reads against a queue being drained concurrently.
func (c *Config) EffectiveDLQCallBudget() int {
	if c.DLQCallBudget > 0 {
		return c.DLQCallBudget
	}
	return (c.MaxDLQMessages+9)/10 + 2
}

func splitResourceList(v string) []Resource {
	if v == "" {
		return nil
	}
	var out []Resource
	for _, part := range strings.Split(v, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		out = append(out, Resource{Name: name})
	}
	return out
}

func envSeconds(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
