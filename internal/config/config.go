// internal/config/config.go
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Inputs      InputsConfig      `yaml:"inputs"`
	SSH         SSHConfig         `yaml:"ssh"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Probe       ProbeConfig       `yaml:"probe"`
	Failover    FailoverConfig    `yaml:"failover"`
	Runner      RunnerConfig      `yaml:"runner"`
	Tools       ToolsConfig       `yaml:"tools"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Logging     LoggingConfig     `yaml:"logging"`
	Include     IncludeConfig     `yaml:"include"`
}

type InputsConfig struct {
	SensorsFile    string        `yaml:"sensors_file"`
	SensorsInclude IncludeConfig `yaml:"sensors_include"`
	TestsFile      string        `yaml:"tests_file"`
	ReportsDir     string        `yaml:"reports_dir"`
	ReportFormat   string        `yaml:"report_format"`
	ReportTitle    string        `yaml:"report_title"`
}

type SSHConfig struct {
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	DialRate       float64       `yaml:"dial_rate"`
	DialBurst      int           `yaml:"dial_burst"`
	KnownHosts     string        `yaml:"known_hosts"`
	KeyFile        string        `yaml:"key_file"`
}

// CredentialsConfig names where secrets come from. The secrets themselves
// never appear in the config file.
type CredentialsConfig struct {
	EnvFile    string `yaml:"env_file"`
	DefaultRef string `yaml:"default_ref"`
}

type ProbeConfig struct {
	Method  string        `yaml:"method"`
	Timeout time.Duration `yaml:"timeout"`
	TCPPort int           `yaml:"tcp_port"`
}

type FailoverConfig struct {
	Enabled  *bool    `yaml:"enabled"`
	Prefixes []string `yaml:"prefixes"`
}

type RunnerConfig struct {
	Workers  int           `yaml:"workers"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
}

// ToolsConfig lists what `sensorqa tools` checks. An entry is a package
// name, optionally followed by ":binary" when the two differ.
type ToolsConfig struct {
	Packages []string `yaml:"packages"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Type             string        `yaml:"type"`
	Path             string        `yaml:"path"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
	PushGateway string `yaml:"push_gateway"`
	Job         string `yaml:"job"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type IncludeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
}

// PartialConfig is one include file. Only the sections it carries are merged.
type PartialConfig struct {
	Inputs      *InputsConfig      `yaml:"inputs,omitempty"`
	SSH         *SSHConfig         `yaml:"ssh,omitempty"`
	Credentials *CredentialsConfig `yaml:"credentials,omitempty"`
	Probe       *ProbeConfig       `yaml:"probe,omitempty"`
	Failover    *FailoverConfig    `yaml:"failover,omitempty"`
	Runner      *RunnerConfig      `yaml:"runner,omitempty"`
	Tools       *ToolsConfig       `yaml:"tools,omitempty"`
	Server      *ServerConfig      `yaml:"server,omitempty"`
	Database    *DatabaseConfig    `yaml:"database,omitempty"`
	Prometheus  *PrometheusConfig  `yaml:"prometheus,omitempty"`
	Logging     *LoggingConfig     `yaml:"logging,omitempty"`
}

// Load reads the main file, merges includes, applies defaults and validates.
// Relative paths set in the file are resolved against the file's directory;
// defaults stay relative to the working directory.
func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	baseDir := filepath.Dir(filename)
	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, baseDir); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	resolvePaths(config, baseDir)
	applyEnv(config)
	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	setDefaults(cfg)
	return cfg
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}
	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}
	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}
	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}
	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}
	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	if partial.Inputs != nil {
		mergeInputsConfig(&config.Inputs, partial.Inputs)
	}
	if partial.SSH != nil {
		mergeSSHConfig(&config.SSH, partial.SSH)
	}
	if partial.Credentials != nil {
		mergeString(&config.Credentials.EnvFile, partial.Credentials.EnvFile)
		mergeString(&config.Credentials.DefaultRef, partial.Credentials.DefaultRef)
	}
	if partial.Probe != nil {
		mergeString(&config.Probe.Method, partial.Probe.Method)
		mergeDuration(&config.Probe.Timeout, partial.Probe.Timeout)
		mergeInt(&config.Probe.TCPPort, partial.Probe.TCPPort)
	}
	if partial.Failover != nil {
		if partial.Failover.Enabled != nil {
			config.Failover.Enabled = partial.Failover.Enabled
		}
		if len(partial.Failover.Prefixes) > 0 {
			config.Failover.Prefixes = partial.Failover.Prefixes
		}
	}
	if partial.Runner != nil {
		mergeInt(&config.Runner.Workers, partial.Runner.Workers)
		mergeDuration(&config.Runner.Timeout, partial.Runner.Timeout)
		mergeDuration(&config.Runner.Interval, partial.Runner.Interval)
	}
	if partial.Tools != nil && len(partial.Tools.Packages) > 0 {
		config.Tools.Packages = partial.Tools.Packages
	}
	if partial.Server != nil {
		mergeString(&config.Server.Port, partial.Server.Port)
		mergeDuration(&config.Server.ReadTimeout, partial.Server.ReadTimeout)
		mergeDuration(&config.Server.WriteTimeout, partial.Server.WriteTimeout)
	}
	if partial.Database != nil {
		mergeString(&config.Database.Type, partial.Database.Type)
		mergeString(&config.Database.Path, partial.Database.Path)
		mergeDuration(&config.Database.CleanupInterval, partial.Database.CleanupInterval)
		mergeDuration(&config.Database.HistoryRetention, partial.Database.HistoryRetention)
	}
	if partial.Prometheus != nil {
		config.Prometheus.Enabled = partial.Prometheus.Enabled
		mergeString(&config.Prometheus.MetricsPath, partial.Prometheus.MetricsPath)
		mergeString(&config.Prometheus.PushGateway, partial.Prometheus.PushGateway)
		mergeString(&config.Prometheus.Job, partial.Prometheus.Job)
	}
	if partial.Logging != nil {
		mergeString(&config.Logging.Level, partial.Logging.Level)
		mergeString(&config.Logging.Format, partial.Logging.Format)
	}
}

func mergeInputsConfig(main, partial *InputsConfig) {
	mergeString(&main.SensorsFile, partial.SensorsFile)
	mergeString(&main.TestsFile, partial.TestsFile)
	mergeString(&main.ReportsDir, partial.ReportsDir)
	mergeString(&main.ReportFormat, partial.ReportFormat)
	mergeString(&main.ReportTitle, partial.ReportTitle)
	if partial.SensorsInclude.Directory != "" {
		main.SensorsInclude = partial.SensorsInclude
	}
}

func mergeSSHConfig(main, partial *SSHConfig) {
	mergeInt(&main.Port, partial.Port)
	mergeDuration(&main.ConnectTimeout, partial.ConnectTimeout)
	mergeDuration(&main.CommandTimeout, partial.CommandTimeout)
	if partial.DialRate != 0 {
		main.DialRate = partial.DialRate
	}
	mergeInt(&main.DialBurst, partial.DialBurst)
	mergeString(&main.KnownHosts, partial.KnownHosts)
	mergeString(&main.KeyFile, partial.KeyFile)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnv lets the environment variable the older tooling used point at
// the sensor registry.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SENSOR_DETAILS_PATH"); v != "" && cfg.Inputs.SensorsFile == "" {
		cfg.Inputs.SensorsFile = v
	}
}

func setDefaults(cfg *Config) {
	// Inputs
	if cfg.Inputs.SensorsFile == "" {
		cfg.Inputs.SensorsFile = "config/sensors.yaml"
	}
	if cfg.Inputs.TestsFile == "" {
		cfg.Inputs.TestsFile = "config/tests.yaml"
	}
	if cfg.Inputs.ReportsDir == "" {
		cfg.Inputs.ReportsDir = "reports"
	}
	if cfg.Inputs.ReportFormat == "" {
		cfg.Inputs.ReportFormat = "json"
	}
	if cfg.Inputs.ReportTitle == "" {
		cfg.Inputs.ReportTitle = "Sensor QA report"
	}
	if cfg.Inputs.SensorsInclude.Pattern == "" {
		cfg.Inputs.SensorsInclude.Pattern = "*.yaml"
	}

	// SSH
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = 20 * time.Second
	}
	if cfg.SSH.CommandTimeout == 0 {
		cfg.SSH.CommandTimeout = 2 * time.Minute
	}

	// Credentials
	if cfg.Credentials.EnvFile == "" {
		cfg.Credentials.EnvFile = "config/.env"
	}
	if cfg.Credentials.DefaultRef == "" {
		cfg.Credentials.DefaultRef = "PASSWORD_SENSORZ"
	}

	// Probe
	if cfg.Probe.Method == "" {
		cfg.Probe.Method = "icmp"
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = 5 * time.Second
	}
	if cfg.Probe.TCPPort == 0 {
		cfg.Probe.TCPPort = cfg.SSH.Port
	}

	// Failover
	if cfg.Failover.Enabled == nil {
		enabled := true
		cfg.Failover.Enabled = &enabled
	}
	if len(cfg.Failover.Prefixes) == 0 {
		cfg.Failover.Prefixes = []string{"10.8", "10.3"}
	}

	// Runner
	if cfg.Runner.Workers == 0 {
		cfg.Runner.Workers = 8
	}
	if cfg.Runner.Timeout == 0 {
		cfg.Runner.Timeout = 30 * time.Minute
	}

	// Tools
	if len(cfg.Tools.Packages) == 0 {
		cfg.Tools.Packages = []string{"stress", "iperf3", "mtr", "dnsutils:dig"}
	}

	// Server
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	// Database
	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/sensorqa.db"
	}
	if cfg.Database.HistoryRetention == 0 {
		cfg.Database.HistoryRetention = 30 * 24 * time.Hour
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = time.Hour
	}

	// Prometheus
	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}
	if cfg.Prometheus.Job == "" {
		cfg.Prometheus.Job = "sensorqa"
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func resolvePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{
		&cfg.Inputs.SensorsFile,
		&cfg.Inputs.TestsFile,
		&cfg.Inputs.ReportsDir,
		&cfg.Inputs.SensorsInclude.Directory,
		&cfg.Credentials.EnvFile,
		&cfg.SSH.KnownHosts,
		&cfg.SSH.KeyFile,
		&cfg.Database.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Runner.Workers < 1 {
		return fmt.Errorf("runner.workers must be at least 1")
	}
	if cfg.Runner.Timeout < 0 {
		return fmt.Errorf("runner.timeout cannot be negative")
	}
	if cfg.Runner.Interval < 0 {
		return fmt.Errorf("runner.interval cannot be negative")
	}
	for _, tool := range cfg.Tools.Packages {
		if strings.TrimSpace(tool) == "" || strings.HasPrefix(tool, ":") {
			return fmt.Errorf("tools.packages entry %q is not a package name", tool)
		}
	}
	if cfg.Database.Type != "boltdb" {
		return fmt.Errorf("only boltdb is supported currently")
	}
	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port must be between 1 and 65535")
	}
	if cfg.SSH.DialRate < 0 {
		return fmt.Errorf("ssh.dial_rate cannot be negative")
	}

	switch strings.ToLower(cfg.Probe.Method) {
	case "icmp", "tcp":
	default:
		return fmt.Errorf("probe.method must be icmp or tcp, got %q", cfg.Probe.Method)
	}

	switch strings.ToLower(cfg.Inputs.ReportFormat) {
	case "json", "yaml", "yml":
	default:
		return fmt.Errorf("inputs.report_format must be json or yaml, got %q", cfg.Inputs.ReportFormat)
	}

	if len(cfg.Failover.Prefixes) != 2 {
		return fmt.Errorf("failover.prefixes must name exactly two prefixes")
	}
	for _, p := range cfg.Failover.Prefixes {
		if !isValidPrefix(p) {
			return fmt.Errorf("failover.prefixes contains invalid two-octet prefix: %q", p)
		}
	}
	if strings.TrimSuffix(cfg.Failover.Prefixes[0], ".") == strings.TrimSuffix(cfg.Failover.Prefixes[1], ".") {
		return fmt.Errorf("failover.prefixes must differ")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if cfg.Prometheus.PushGateway != "" && !isValidURL(cfg.Prometheus.PushGateway) {
		return fmt.Errorf("prometheus.push_gateway must be a valid URL")
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if cfg.Include.Pattern != "" && !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}
	if cfg.Inputs.SensorsInclude.Pattern != "" && !isValidGlobPattern(cfg.Inputs.SensorsInclude.Pattern) {
		return fmt.Errorf("inputs.sensors_include.pattern contains invalid glob pattern: %s", cfg.Inputs.SensorsInclude.Pattern)
	}
	return nil
}

// FailoverEnabled reports whether prefix-swap failover is on.
func (c *Config) FailoverEnabled() bool {
	return c.Failover.Enabled == nil || *c.Failover.Enabled
}

func isValidPrefix(p string) bool {
	p = strings.TrimSuffix(p, ".")
	return strings.Count(p, ".") == 1 && net.ParseIP(p+".0.0").To4() != nil
}

func isValidURL(str string) bool {
	return strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://")
}

func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
