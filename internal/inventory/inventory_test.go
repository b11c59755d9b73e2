package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSensors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sensors.yaml", `
- hostname: SENS-WA10-398A-0154
  ip_address: 10.8.0.163
  username: sensorz
  credential_ref: PASSWORD_SENSORZ
- hostname: GLOB-WA10-398A-0067
  ip_address_sensor: 10.8.0.76
  username_sensorz: sensorz
  port: 2222
`)
	sensors, err := LoadSensors(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sensors) != 2 {
		t.Fatalf("expected 2 sensors, got %d", len(sensors))
	}
	if sensors[0].Hostname != "SENS-WA10-398A-0154" || sensors[0].CredentialRef != "PASSWORD_SENSORZ" {
		t.Fatalf("unexpected first sensor %+v", sensors[0])
	}
	if sensors[1].Address != "10.8.0.76" || sensors[1].Username != "sensorz" || sensors[1].Port != 2222 {
		t.Fatalf("legacy keys not mapped: %+v", sensors[1])
	}
}

func TestLoadSensorsRejectsBadRegistries(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"mapping":        "hostname: S1\nip_address: 10.8.0.5\n",
		"missing ip":     "- hostname: S1\n  username: sensorz\n",
		"ipv6":           "- hostname: S1\n  ip_address: \"::1\"\n  username: sensorz\n",
		"no username":    "- hostname: S1\n  ip_address: 10.8.0.5\n",
		"duplicate host": "- {hostname: S1, ip_address: 10.8.0.5, username: a}\n- {hostname: S1, ip_address: 10.8.0.6, username: a}\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "sensors.yaml", content)
			_, err := LoadSensors(path)
			if err == nil {
				t.Fatal("expected error")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadSensorsMissingFile(t *testing.T) {
	_, err := LoadSensors(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestEmptyRegistryIsSentinel(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sensors.yaml", "[]\n")
	_, err := LoadSensors(path)
	if !errors.Is(err, ErrEmptyRegistry) {
		t.Fatalf("expected ErrEmptyRegistry, got %v", err)
	}
}

func TestLoadRegistryMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "sensors.yaml", "- {hostname: S1, ip_address: 10.8.0.5, username: sensorz}\n")
	inc := filepath.Join(dir, "sensors.d")
	if err := os.Mkdir(inc, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, inc, "b.yml", "- {hostname: S3, ip_address: 10.8.0.7, username: sensorz}\n")
	writeFile(t, inc, "a.yaml", "- {hostname: S2, ip_address: 10.8.0.6, username: sensorz}\n")

	sensors, err := LoadRegistry(main, inc, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got []string
	for _, s := range sensors {
		got = append(got, s.Hostname)
	}
	want := []string{"S1", "S2", "S3"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestLoadCatalogKeepsDeclarationOrder(t *testing.T) {
	yamlDoc := `
Performance:
  - name: CPU load
    command: uptime
  - name: Disk
    command: df -h
Network:
  - name: External ping
    command: ping -c 4 8.8.8.8
    log_check: grep 'WARN\|ERROR' /var/log/openvpn.log
Bandwidth:
  - name: iperf
    command: iperf3 -c {ip} -t 5
`
	jsonDoc := `{
	"Performance": [
		{"name": "CPU load", "command": "uptime"},
		{"name": "Disk", "command": "df -h"}
	],
	"Network": [
		{"name": "External ping", "command": "ping -c 4 8.8.8.8", "log_check": "tail -n 20 /var/log/syslog"}
	],
	"Bandwidth": [
		{"name": "iperf", "command": "iperf3 -c {ip} -t 5"}
	]
}`
	tomlDoc := `
[[Performance]]
name = "CPU load"
command = "uptime"

[[Performance]]
name = "Disk"
command = "df -h"

[[Network]]
name = "External ping"
command = "ping -c 4 8.8.8.8"
log_check = "tail -n 20 /var/log/syslog"

[[Bandwidth]]
name = "iperf"
command = "iperf3 -c {ip} -t 5"
`
	files := map[string]string{
		"tests.yaml": yamlDoc,
		"tests.json": jsonDoc,
		"tests.toml": tomlDoc,
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), name, content)
			catalog, err := LoadCatalog(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			order := []string{"Performance", "Network", "Bandwidth"}
			if len(catalog.Categories) != len(order) {
				t.Fatalf("expected %d categories, got %d", len(order), len(catalog.Categories))
			}
			for i, want := range order {
				if catalog.Categories[i].Name != want {
					t.Fatalf("category %d = %s, want %s", i, catalog.Categories[i].Name, want)
				}
			}
			if catalog.Len() != 4 {
				t.Fatalf("expected 4 tests, got %d", catalog.Len())
			}
			perf := catalog.Categories[0].Tests
			if perf[0].Name != "CPU load" || perf[1].Name != "Disk" {
				t.Fatalf("test order lost: %+v", perf)
			}
			if perf[0].Category != "Performance" {
				t.Fatalf("category not stamped on test: %+v", perf[0])
			}
			if catalog.Categories[1].Tests[0].LogCheck == "" {
				t.Fatal("log_check not decoded")
			}
		})
	}
}

func TestLoadCatalogRejectsBadCatalogs(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"list root":        "- name: a\n  command: b\n",
		"empty category":   "Network: []\n",
		"missing command":  "Network:\n  - name: ping\n",
		"missing name":     "Network:\n  - command: uptime\n",
		"duplicate name":   "Network:\n  - {name: a, command: uptime}\n  - {name: a, command: df}\n",
		"unbalanced quote": "Network:\n  - name: a\n    command: echo 'oops\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "tests.yaml", content)
			_, err := LoadCatalog(path)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestLoadCatalogRejectsDuplicateCategories(t *testing.T) {
	cases := map[string]string{
		"tests.yaml": "Network:\n  - name: ping\n    command: ping -c 1 8.8.8.8\nSystem:\n  - name: uptime\n    command: uptime\nNetwork:\n  - name: route\n    command: ip route\n",
		"tests.json": `{"Network": [{"name": "ping", "command": "ping -c 1 {ip}"}], "Network": [{"name": "route", "command": "ip route"}]}`,
		"tests.toml": "[[Network]]\nname = \"ping\"\ncommand = \"ping -c 1 {ip}\"\n\n[[System]]\nname = \"uptime\"\ncommand = \"uptime\"\n\n[[Network]]\nname = \"route\"\ncommand = \"ip route\"\n",
	}
	for file, content := range cases {
		t.Run(file, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), file, content)
			_, err := LoadCatalog(path)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if !strings.Contains(err.Error(), `duplicate category "Network"`) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestParseCatalogTOMLContiguousTablesFormOneCategory(t *testing.T) {
	data := []byte("[[Network]]\nname = \"ping\"\ncommand = \"ping\"\n\n[[Network]]\nname = \"route\"\ncommand = \"ip route\"\n")
	catalog, err := ParseCatalogTOML(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog.Categories) != 1 || len(catalog.Categories[0].Tests) != 2 {
		t.Fatalf("unexpected catalog %+v", catalog)
	}
}
