// internal/provision/packages.go
package provision

import (
	"fmt"
	"path"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

type PackageManager string

const (
	Unknown PackageManager = ""
	APT     PackageManager = "apt"
	DNF     PackageManager = "dnf"
	YUM     PackageManager = "yum"
	APK     PackageManager = "apk"
)

// DetectCommand prints the path of the first supported package manager.
const DetectCommand = "command -v apt-get || command -v dnf || command -v yum || command -v apk"

// Tool is a package and the binary whose presence proves it is installed.
type Tool struct {
	Package string `json:"package" yaml:"package"`
	Binary  string `json:"binary" yaml:"binary"`
}

// ParseTool reads "package" or "package:binary".
func ParseTool(spec string) (Tool, error) {
	pkg, bin, found := strings.Cut(strings.TrimSpace(spec), ":")
	pkg, bin = strings.TrimSpace(pkg), strings.TrimSpace(bin)
	if pkg == "" {
		return Tool{}, fmt.Errorf("tool %q: package name is required", spec)
	}
	if !found || bin == "" {
		bin = pkg
	}
	if strings.ContainsAny(pkg+bin, " \t/") {
		return Tool{}, fmt.Errorf("tool %q: names cannot contain spaces or slashes", spec)
	}
	return Tool{Package: pkg, Binary: bin}, nil
}

func ParseTools(specs []string) ([]Tool, error) {
	tools := make([]Tool, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		t, err := ParseTool(spec)
		if err != nil {
			return nil, err
		}
		if seen[t.Package] {
			continue
		}
		seen[t.Package] = true
		tools = append(tools, t)
	}
	if len(tools) == 0 {
		return nil, fmt.Errorf("no tools to check")
	}
	return tools, nil
}

// ManagerFromPath maps DetectCommand output to a package manager.
func ManagerFromPath(out string) PackageManager {
	first, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	switch path.Base(strings.TrimSpace(first)) {
	case "apt-get", "apt":
		return APT
	case "dnf":
		return DNF
	case "yum":
		return YUM
	case "apk":
		return APK
	}
	return Unknown
}

func presenceCommand(t Tool) string {
	return "command -v " + shellquote.Join(t.Binary)
}

// Privileged commands use sudo -n and never prompt.
func (m PackageManager) refreshCommand() string {
	switch m {
	case APT:
		return "sudo -n apt-get update -qq"
	case DNF:
		return "sudo -n dnf makecache -q"
	case YUM:
		return "sudo -n yum makecache fast -q"
	case APK:
		return "sudo -n apk update -q"
	}
	return ""
}

func (m PackageManager) installCommand(pkg string) string {
	q := shellquote.Join(pkg)
	switch m {
	case APT:
		return "sudo -n env DEBIAN_FRONTEND=noninteractive apt-get install -y -qq " + q
	case DNF:
		return "sudo -n dnf install -y -q " + q
	case YUM:
		return "sudo -n yum install -y -q " + q
	case APK:
		return "sudo -n apk add -q " + q
	}
	return ""
}

// upgradableCommand lists pending upgrades without changing anything.
func (m PackageManager) upgradableCommand() string {
	switch m {
	case APT:
		return "apt list --upgradable 2>/dev/null"
	case DNF:
		return "dnf -q check-update 2>/dev/null; true"
	case YUM:
		return "yum -q check-update 2>/dev/null; true"
	case APK:
		return "apk version -l '<' 2>/dev/null"
	}
	return ""
}

// ParseUpgradable extracts package names from upgradableCommand output.
func ParseUpgradable(m PackageManager, out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var name string
		switch m {
		case APT:
			if strings.HasPrefix(line, "Listing...") {
				continue
			}
			name, _, _ = strings.Cut(line, "/")
		case DNF, YUM:
			fields := strings.Fields(line)
			if len(fields) != 3 {
				continue
			}
			name = fields[0]
			if i := strings.LastIndex(name, "."); i > 0 {
				name = name[:i]
			}
		case APK:
			if strings.HasPrefix(line, "Installed:") {
				continue
			}
			name = trimAPKVersion(strings.Fields(line)[0])
		}
		if name != "" {
			pkgs = append(pkgs, name)
		}
	}
	return pkgs
}

// trimAPKVersion turns "busybox-1.36.1-r2" into "busybox".
func trimAPKVersion(s string) string {
	parts := strings.Split(s, "-")
	if len(parts) < 3 {
		return s
	}
	return strings.Join(parts[:len(parts)-2], "-")
}
