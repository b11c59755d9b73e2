package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SENSOR_DETAILS_PATH", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, "sensorqa.yaml", "logging:\n  level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner.Workers != 8 || cfg.Runner.Timeout != 30*time.Minute {
		t.Fatalf("unexpected runner defaults %+v", cfg.Runner)
	}
	if !cfg.FailoverEnabled() || cfg.Failover.Prefixes[0] != "10.8" || cfg.Failover.Prefixes[1] != "10.3" {
		t.Fatalf("unexpected failover defaults %+v", cfg.Failover)
	}
	if cfg.SSH.ConnectTimeout != 20*time.Second || cfg.Probe.TCPPort != 22 {
		t.Fatalf("unexpected ssh/probe defaults %+v %+v", cfg.SSH, cfg.Probe)
	}
	if cfg.Credentials.DefaultRef != "PASSWORD_SENSORZ" {
		t.Fatalf("unexpected default ref %q", cfg.Credentials.DefaultRef)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if len(cfg.Tools.Packages) != 4 || cfg.Tools.Packages[3] != "dnsutils:dig" {
		t.Fatalf("unexpected tools defaults %v", cfg.Tools.Packages)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "sensorqa.yaml", `
inputs:
  sensors_file: fleet/sensors.yaml
  tests_file: fleet/tests.toml
  report_format: yaml
ssh:
  connect_timeout: 5s
  command_timeout: 1m
  dial_rate: 4
failover:
  enabled: false
  prefixes: ["172.16", "172.17"]
runner:
  workers: 3
  timeout: 10m
  interval: 1h
tools:
  packages: [tcpdump, "bind-utils:dig"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Inputs.SensorsFile != filepath.Join(dir, "fleet/sensors.yaml") {
		t.Fatalf("sensors file not resolved against config dir: %s", cfg.Inputs.SensorsFile)
	}
	if cfg.SSH.ConnectTimeout != 5*time.Second || cfg.SSH.CommandTimeout != time.Minute || cfg.SSH.DialRate != 4 {
		t.Fatalf("unexpected ssh %+v", cfg.SSH)
	}
	if cfg.FailoverEnabled() {
		t.Fatal("failover should be disabled")
	}
	if cfg.Runner.Workers != 3 || cfg.Runner.Interval != time.Hour {
		t.Fatalf("unexpected runner %+v", cfg.Runner)
	}
	if strings.Join(cfg.Tools.Packages, ",") != "tcpdump,bind-utils:dig" {
		t.Fatalf("unexpected tools %v", cfg.Tools.Packages)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "conf.d/10-ssh.yaml", "ssh:\n  command_timeout: 45s\n")
	writeConfig(t, dir, "conf.d/20-runner.yml", "runner:\n  workers: 16\n")
	path := writeConfig(t, dir, "sensorqa.yaml", `
include:
  enabled: true
  directory: conf.d
runner:
  workers: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SSH.CommandTimeout != 45*time.Second {
		t.Fatalf("include not merged: %v", cfg.SSH.CommandTimeout)
	}
	if cfg.Runner.Workers != 16 {
		t.Fatalf("later include should win: %d", cfg.Runner.Workers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad probe":    "probe:\n  method: smoke\n",
		"one prefix":   "failover:\n  prefixes: [\"10.8\"]\n",
		"bad prefix":   "failover:\n  prefixes: [\"10.8\", \"banana\"]\n",
		"same prefix":  "failover:\n  prefixes: [\"10.8\", \"10.8.\"]\n",
		"bad format":   "inputs:\n  report_format: xlsx\n",
		"bad workers":  "runner:\n  workers: -1\n",
		"bad database": "database:\n  type: postgres\n",
		"bad gateway":  "prometheus:\n  push_gateway: pushgw:9091\n",
		"bad yaml":     "runner: [\n",
		"bad log":      "logging:\n  format: xml\n",
		"missing incl": "include:\n  enabled: true\n  directory: nope\n",
		"bad tool":     "tools:\n  packages: [\":dig\"]\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "sensorqa.yaml", content)
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSensorDetailsPathFromEnv(t *testing.T) {
	t.Setenv("SENSOR_DETAILS_PATH", "/srv/fleet/sensors.yaml")
	cfg := Default()
	if cfg.Inputs.SensorsFile != "/srv/fleet/sensors.yaml" {
		t.Fatalf("got %s", cfg.Inputs.SensorsFile)
	}
}

func TestResolveCredentials(t *testing.T) {
	dir := t.TempDir()
	envFile := writeConfig(t, dir, ".env", "SQA_TEST_DEFAULT=from-file\nSQA_TEST_LAB=lab-secret\n")
	t.Setenv("SQA_TEST_DEFAULT", "from-env")
	t.Setenv("SQA_TEST_LAB", "")
	os.Unsetenv("SQA_TEST_LAB")
	t.Cleanup(func() { os.Unsetenv("SQA_TEST_LAB") })

	secrets, err := ResolveCredentials(CredentialsConfig{EnvFile: envFile, DefaultRef: "SQA_TEST_DEFAULT"}, []string{"SQA_TEST_LAB", ""})
	if err != nil {
		t.Fatal(err)
	}
	if secrets["SQA_TEST_DEFAULT"] != "from-env" {
		t.Fatal("environment must win over the env file")
	}
	if secrets["SQA_TEST_LAB"] != "lab-secret" {
		t.Fatal("env file value not loaded")
	}
}

func TestResolveCredentialsMissing(t *testing.T) {
	os.Unsetenv("SQA_TEST_MISSING")
	_, err := ResolveCredentials(CredentialsConfig{DefaultRef: "SQA_TEST_MISSING"}, nil)
	if err == nil || !strings.Contains(err.Error(), "SQA_TEST_MISSING") {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}
