// internal/inventory/registry.go
package inventory

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"sensorqa/internal/model"
)

// ConfigError marks a registry or catalog problem that must abort the run
// before any sensor is contacted.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var ErrEmptyRegistry = errors.New("sensor registry is empty")

// sensorEntry accepts both the current keys and the legacy
// ip_address_sensor/username_sensorz keys of older registry files.
type sensorEntry struct {
	Hostname      string `yaml:"hostname"`
	IPAddress     string `yaml:"ip_address"`
	LegacyIP      string `yaml:"ip_address_sensor"`
	Username      string `yaml:"username"`
	LegacyUser    string `yaml:"username_sensorz"`
	CredentialRef string `yaml:"credential_ref"`
	Port          int    `yaml:"port"`
}

func (s sensorEntry) endpoint() model.SensorEndpoint {
	ep := model.SensorEndpoint{
		Hostname:      strings.TrimSpace(s.Hostname),
		Address:       strings.TrimSpace(s.IPAddress),
		Username:      strings.TrimSpace(s.Username),
		CredentialRef: strings.TrimSpace(s.CredentialRef),
		Port:          s.Port,
	}
	if ep.Address == "" {
		ep.Address = strings.TrimSpace(s.LegacyIP)
	}
	if ep.Username == "" {
		ep.Username = strings.TrimSpace(s.LegacyUser)
	}
	return ep
}

// LoadRegistry reads the main registry file and appends every registry file
// found in includeDir matching pattern, in filename order. The merged set is
// validated as a whole.
func LoadRegistry(path, includeDir, pattern string) ([]model.SensorEndpoint, error) {
	sensors, err := readSensors(path)
	if err != nil {
		return nil, err
	}

	if includeDir != "" {
		files, err := includeFiles(includeDir, pattern)
		if err != nil {
			return nil, &ConfigError{Path: includeDir, Err: err}
		}
		for _, f := range files {
			extra, err := readSensors(f)
			if err != nil {
				return nil, err
			}
			sensors = append(sensors, extra...)
			logrus.WithFields(logrus.Fields{
				"file":    f,
				"sensors": len(extra),
			}).Debug("Merged sensor include file")
		}
	}

	if err := ValidateSensors(sensors); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"file":    path,
		"sensors": len(sensors),
	}).Info("Sensor registry loaded")
	return sensors, nil
}

// LoadSensors reads and validates a single registry file.
func LoadSensors(path string) ([]model.SensorEndpoint, error) {
	return LoadRegistry(path, "", "")
}

func readSensors(path string) ([]model.SensorEndpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("failed to read sensor registry: %w", err)}
	}
	sensors, err := ParseSensors(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return sensors, nil
}

// ParseSensors decodes a YAML sequence of sensor entries. It does not
// validate the result.
func ParseSensors(data []byte) ([]model.SensorEndpoint, error) {
	var entries []sensorEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse sensor registry, expected a list: %w", err)
	}
	sensors := make([]model.SensorEndpoint, 0, len(entries))
	for _, e := range entries {
		sensors = append(sensors, e.endpoint())
	}
	return sensors, nil
}

// ValidateSensors checks the registry is usable before any connection is made.
func ValidateSensors(sensors []model.SensorEndpoint) error {
	if len(sensors) == 0 {
		return ErrEmptyRegistry
	}
	seen := make(map[string]int, len(sensors))
	for i, s := range sensors {
		if s.Hostname == "" {
			return fmt.Errorf("sensor %d: hostname is required", i)
		}
		if prev, ok := seen[s.Hostname]; ok {
			return fmt.Errorf("sensor %d: duplicate hostname %q (first seen at %d)", i, s.Hostname, prev)
		}
		seen[s.Hostname] = i
		if ip := net.ParseIP(s.Address); ip == nil || ip.To4() == nil {
			return fmt.Errorf("sensor %q: ip_address %q is not a valid IPv4 address", s.Hostname, s.Address)
		}
		if s.Username == "" {
			return fmt.Errorf("sensor %q: username is required", s.Hostname)
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("sensor %q: invalid port %d", s.Hostname, s.Port)
		}
	}
	return nil
}

func includeFiles(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("include directory is not accessible: %w", err)
	}
	if pattern == "" {
		pattern = "*.yaml"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to glob include pattern: %w", err)
	}
	if pattern == "*.yaml" {
		yml, err := filepath.Glob(filepath.Join(dir, "*.yml"))
		if err != nil {
			return nil, fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, yml...)
	}
	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})
	return matches, nil
}
