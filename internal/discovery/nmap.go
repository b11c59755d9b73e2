// internal/discovery/nmap.go
package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Nmap XML structures
type NmapRun struct {
	XMLName  xml.Name `xml:"nmaprun"`
	Scanner  string   `xml:"scanner,attr"`
	Args     string   `xml:"args,attr"`
	Start    int64    `xml:"start,attr"`
	StartStr string   `xml:"startstr,attr"`
	Version  string   `xml:"version,attr"`
	Hosts    []Host   `xml:"host"`
}

type Host struct {
	Status    HostStatus `xml:"status"`
	Addresses []Address  `xml:"address"`
	Hostnames []Hostname `xml:"hostnames>hostname"`
	Ports     []Port     `xml:"ports>port"`
}

type HostStatus struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type Address struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type Hostname struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type Port struct {
	Protocol string      `xml:"protocol,attr"`
	PortID   int         `xml:"portid,attr"`
	State    PortState   `xml:"state"`
	Service  PortService `xml:"service"`
}

type PortState struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

type PortService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
}

// IPv4 returns the first IPv4 address nmap reported for the host.
func (h Host) IPv4() string {
	for _, addr := range h.Addresses {
		if addr.AddrType == "ipv4" {
			return addr.Addr
		}
	}
	return ""
}

// DNSName returns the reverse-lookup or user-supplied name, if any.
func (h Host) DNSName() string {
	for _, hn := range h.Hostnames {
		if hn.Type == "PTR" || hn.Type == "user" {
			return hn.Name
		}
	}
	return ""
}

// PortOpen reports whether the TCP port was found open.
func (h Host) PortOpen(port int) bool {
	for _, p := range h.Ports {
		if p.PortID == port && p.Protocol == "tcp" && p.State.State == "open" {
			return true
		}
	}
	return false
}

// ParseNmapXML decodes the output of `nmap -oX`.
func ParseNmapXML(r io.Reader) (*NmapRun, error) {
	var run NmapRun
	if err := xml.NewDecoder(r).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to parse nmap XML: %w", err)
	}
	return &run, nil
}

// Scan runs nmap against network looking only at the SSH port and returns
// its XML output.
func Scan(ctx context.Context, nmapPath, network string, sshPort int) ([]byte, error) {
	args := []string{
		"--system-dns",
		"-oX", "-",
		"-p", strconv.Itoa(sshPort),
		network,
	}
	logrus.WithFields(logrus.Fields{
		"nmap": nmapPath,
		"args": args,
	}).Info("Running network scan")

	output, err := exec.CommandContext(ctx, nmapPath, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nmap exited with status %d: %s", exitErr.ExitCode(), exitErr.Stderr)
		}
		return nil, fmt.Errorf("nmap execution failed: %w", err)
	}
	return output, nil
}
