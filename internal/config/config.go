// Package config handles tortillas configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig marks every configuration problem. It is fatal to a run.
var ErrInvalidConfig = errors.New("invalid configuration")

var (
	errMissingField     = errors.New("missing required option")
	errNotPositive      = errors.New("must be positive")
	errRuleMissingName  = errors.New("analyze rule missing name")
	errRuleDuplicate    = errors.New("duplicate analyze rule name")
	errRuleMissingScope = errors.New("analyze rule missing scope")
	errRuleUnknownMode  = errors.New("analyze rule has unknown mode")
	errRuleBadStatus    = errors.New("analyze rule has unknown set_status")
	errRuleNoGroup      = errors.New("analyze rule pattern has no capture group 1")
)

// Mode selects how a matching analyze rule affects a test run.
type Mode string

const (
	// ModeAddAsError appends every capture as its own error entry.
	ModeAddAsError Mode = "add_as_error"
	// ModeAddAsErrorJoin joins all captures into one fenced error entry.
	ModeAddAsErrorJoin Mode = "add_as_error_join"
	// ModeAddAsErrorLast keeps only the latest capture as an error entry.
	ModeAddAsErrorLast Mode = "add_as_error_last"
	// ModeRetry abandons the attempt and re-queues the test.
	ModeRetry Mode = "retry"
	// ModeExitCodes records the capture as an observed exit code.
	ModeExitCodes Mode = "exit_codes"
	// ModeExpectStdout records the capture as guest stdout.
	ModeExpectStdout Mode = "expect_stdout"
)

// Modes lists every supported mode in declaration order.
var Modes = []Mode{
	ModeAddAsError,
	ModeAddAsErrorJoin,
	ModeAddAsErrorLast,
	ModeRetry,
	ModeExitCodes,
	ModeExpectStdout,
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}

	return false
}

// StatusOverride is the optional set_status of an analyze rule.
type StatusOverride string

const (
	// OverrideNone leaves the verdict untouched.
	OverrideNone StatusOverride = ""
	// OverrideFailed forces FAILED.
	OverrideFailed StatusOverride = "FAILED"
	// OverridePanic forces PANIC and outranks OverrideFailed.
	OverridePanic StatusOverride = "PANIC"
)

// Rank orders overrides; a higher rank wins.
func (s StatusOverride) Rank() int {
	switch s {
	case OverridePanic:
		return 2
	case OverrideFailed:
		return 1
	default:
		return 0
	}
}

// AnalyzeRule classifies one scope of debug-log messages.
type AnalyzeRule struct {
	Name      string         `yaml:"name"`
	Scope     string         `yaml:"scope"`
	Pattern   string         `yaml:"pattern"`
	Mode      Mode           `yaml:"mode"`
	SetStatus StatusOverride `yaml:"set_status,omitempty"`
}

// Config is the tortillas configuration file.
type Config struct {
	Threads                int           `yaml:"threads"`
	BootupTimeoutSecs      int           `yaml:"bootup_timeout_secs"`
	DefaultTestTimeoutSecs int           `yaml:"default_test_timeout_secs"`
	ScTortillasBootup      uint64        `yaml:"sc_tortillas_bootup"`
	ScTortillasFinished    uint64        `yaml:"sc_tortillas_finished"`
	InterruptVector        int           `yaml:"interrupt_vector"`
	MaxRetries             *int          `yaml:"max_retries"`
	Analyze                []AnalyzeRule `yaml:"analyze"`
}

// rawConfig tracks which required options were present in the file.
type rawConfig struct {
	Threads                *int    `yaml:"threads"`
	BootupTimeoutSecs      *int    `yaml:"bootup_timeout_secs"`
	DefaultTestTimeoutSecs *int    `yaml:"default_test_timeout_secs"`
	ScTortillasBootup      *uint64 `yaml:"sc_tortillas_bootup"`
	ScTortillasFinished    *uint64 `yaml:"sc_tortillas_finished"`
}

// ResolvePath expands the sweb path placeholder, falling back to the default
// config file inside the SWEB tree.
func ResolvePath(configPath, swebPath string) string {
	if configPath == "" {
		return swebPath + "/" + DefaultConfigFile
	}

	return strings.ReplaceAll(configPath, SwebPathPlaceholder, swebPath)
}

// Load reads, parses and validates a tortillas config file. Environment
// overrides are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: config path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes and validates config YAML.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %w", ErrInvalidConfig, err)
	}

	required := map[string]bool{
		"threads":                   raw.Threads != nil,
		"bootup_timeout_secs":       raw.BootupTimeoutSecs != nil,
		"default_test_timeout_secs": raw.DefaultTestTimeoutSecs != nil,
		"sc_tortillas_bootup":       raw.ScTortillasBootup != nil,
		"sc_tortillas_finished":     raw.ScTortillasFinished != nil,
	}

	for _, name := range []string{
		"threads",
		"bootup_timeout_secs",
		"default_test_timeout_secs",
		"sc_tortillas_bootup",
		"sc_tortillas_finished",
	} {
		if !required[name] {
			return nil, fmt.Errorf("%w: %w %q", ErrInvalidConfig, errMissingField, name)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing yaml: %w", ErrInvalidConfig, err)
	}

	if cfg.InterruptVector == 0 {
		cfg.InterruptVector = DefaultInterruptVector
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEnv loads an env file. A missing default .env is not an error.
func LoadEnv(file string) error {
	if file == "" {
		file = ".env"
	}

	if err := godotenv.Load(file); err != nil {
		if file == ".env" && os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("loading env file %q: %w", file, err)
	}

	return nil
}

// Retries returns the retry bound, applying the default when unset.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}

	return *c.MaxRetries
}

// Validate checks option ranges and every analyze rule.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"threads", c.Threads},
		{"bootup_timeout_secs", c.BootupTimeoutSecs},
		{"default_test_timeout_secs", c.DefaultTestTimeoutSecs},
		{"interrupt_vector", c.InterruptVector},
	}

	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%w: %s %w", ErrInvalidConfig, check.name, errNotPositive)
		}
	}

	if c.Retries() < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Analyze))

	for i, rule := range c.Analyze {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("analyze rule %d: %w", i, err)
		}

		if seen[rule.Name] {
			return fmt.Errorf("%w: %w %q", ErrInvalidConfig, errRuleDuplicate, rule.Name)
		}

		seen[rule.Name] = true
	}

	return nil
}

// Validate checks a single rule, including its pattern.
func (r *AnalyzeRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errRuleMissingName)
	}

	if r.Scope == "" {
		return fmt.Errorf("%w: %w: %s", ErrInvalidConfig, errRuleMissingScope, r.Name)
	}

	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %w %q: %s", ErrInvalidConfig, errRuleUnknownMode, r.Mode, r.Name)
	}

	switch r.SetStatus {
	case OverrideNone, OverrideFailed, OverridePanic:
	default:
		return fmt.Errorf("%w: %w %q: %s", ErrInvalidConfig, errRuleBadStatus, r.SetStatus, r.Name)
	}

	if _, err := CompilePattern(r.Pattern); err != nil {
		return fmt.Errorf("%w: %s", err, r.Name)
	}

	return nil
}

// CompilePattern compiles an analyze pattern. Patterns match across newlines
// and must define capture group 1.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?s)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling pattern %q: %w", ErrInvalidConfig, pattern, err)
	}

	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidConfig, errRuleNoGroup, pattern)
	}

	return re, nil
}

func (c *Config) applyEnvOverrides() error {
	overrides := []struct {
		key    string
		target *int
	}{
		{"TORTILLAS_THREADS", &c.Threads},
		{"TORTILLAS_BOOTUP_TIMEOUT_SECS", &c.BootupTimeoutSecs},
		{"TORTILLAS_DEFAULT_TEST_TIMEOUT_SECS", &c.DefaultTestTimeoutSecs},
	}

	for _, override := range overrides {
		value := getEnv(override.key, "")
		if value == "" {
			continue
		}

		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: invalid %s: %w", ErrInvalidConfig, override.key, err)
		}

		*override.target = parsed
	}

	if value := getEnv("TORTILLAS_MAX_RETRIES", ""); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: invalid TORTILLAS_MAX_RETRIES: %w", ErrInvalidConfig, err)
		}

		c.MaxRetries = &parsed
	}

	return nil
}

// TimeoutFactor reads TORTILLAS_TIMEOUT_FACTOR, defaulting to 1.
func TimeoutFactor() float64 {
	value := getEnv("TORTILLAS_TIMEOUT_FACTOR", "")
	if value == "" {
		return 1
	}

	factor, err := strconv.ParseFloat(value, 64)
	if err != nil || factor <= 0 {
		return 1
	}

	return factor
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func (c *Config) String() string {
	var builder strings.Builder

	fmt.Fprintf(&builder, `Current Configuration:
======================
Threads:                   %d
Bootup Timeout:            %ds
Default Test Timeout:      %ds
Bootup Syscall:            %d
Finished Syscall:          %d
Interrupt Vector:          %#x
Max Retries:               %d
Analyze Rules:             %d`,
		c.Threads,
		c.BootupTimeoutSecs,
		c.DefaultTestTimeoutSecs,
		c.ScTortillasBootup,
		c.ScTortillasFinished,
		c.InterruptVector,
		c.Retries(),
		len(c.Analyze),
	)

	for _, rule := range c.Analyze {
		status := string(rule.SetStatus)
		if status == "" {
			status = "-"
		}

		fmt.Fprintf(&builder, "\n  - %-24s scope=%-12s mode=%-18s status=%s", rule.Name, rule.Scope, rule.Mode, status)
	}

	return builder.String()
}
