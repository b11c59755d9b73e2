// internal/discovery/registry.go
package discovery

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sensorqa/internal/inventory"
	"sensorqa/internal/model"
)

// Options control how scanned hosts become registry entries.
type Options struct {
	Username      string
	CredentialRef string
	SSHPort       int
	// Prefixes, when set, keeps only addresses starting with one of them.
	Prefixes []string
}

// Sensors turns every up host with the SSH port open into a sensor entry,
// in scan order. Hostnames come from DNS when available, otherwise from the
// last address octet; clashes get a numeric suffix.
func Sensors(run *NmapRun, opts Options) []model.SensorEndpoint {
	port := opts.SSHPort
	if port == 0 {
		port = model.DefaultSSHPort
	}

	var sensors []model.SensorEndpoint
	used := make(map[string]int)
	for _, host := range run.Hosts {
		if host.Status.State != "up" || !host.PortOpen(port) {
			continue
		}
		ip := host.IPv4()
		if ip == "" || !matchesPrefix(ip, opts.Prefixes) {
			continue
		}

		name := hostID(ip, host.DNSName())
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
		}

		sensor := model.SensorEndpoint{
			Hostname:      name,
			Address:       ip,
			Username:      opts.Username,
			CredentialRef: opts.CredentialRef,
		}
		if port != model.DefaultSSHPort {
			sensor.Port = port
		}
		sensors = append(sensors, sensor)
	}
	return sensors
}

func matchesPrefix(ip string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(ip, strings.TrimSuffix(p, ".")+".") {
			return true
		}
	}
	return false
}

func hostID(ipv4, dnsName string) string {
	if dnsName != "" {
		return strings.ToLower(strings.Split(dnsName, ".")[0])
	}
	parts := strings.Split(ipv4, ".")
	if len(parts) == 4 {
		return "sensor-" + parts[3]
	}
	return "sensor-" + strings.ReplaceAll(ipv4, ".", "-")
}

// WriteRegistry validates the sensors and writes them as a registry file
// that inventory.LoadSensors reads back.
func WriteRegistry(w io.Writer, sensors []model.SensorEndpoint, source string) error {
	if err := inventory.ValidateSensors(sensors); err != nil {
		return fmt.Errorf("discovered registry is invalid: %w", err)
	}

	data, err := yaml.Marshal(sensors)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := fmt.Sprintf("# Sensor registry generated by sensorqa discover on %s\n# Source: %s\n# Contains %d sensors\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		source,
		len(sensors))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
