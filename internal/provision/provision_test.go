package provision

import (
	"context"
	"strings"
	"sync"
	"testing"

	"sensorqa/internal/failover"
	"sensorqa/internal/model"
	"sensorqa/internal/probe"
	"sensorqa/internal/remote"
)

// fakeSensor answers like a host with a package manager: installing a known
// package makes its binary visible to later presence checks.
type fakeSensor struct {
	mu          sync.Mutex
	manager     string
	binaries    map[string]bool
	installable map[string]string
	upgradable  string
	commands    []string
}

func (f *fakeSensor) Execute(_ context.Context, _ model.SensorEndpoint, command string) model.CommandOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	switch {
	case command == DetectCommand:
		return model.NewOutcome(f.manager+"\n", "")
	case strings.HasPrefix(command, "command -v "):
		bin := strings.TrimPrefix(command, "command -v ")
		if f.binaries[bin] {
			return model.NewOutcome("/usr/bin/"+bin+"\n", "")
		}
		return model.NewOutcome("", "")
	case strings.Contains(command, "install -y"):
		fields := strings.Fields(command)
		pkg := fields[len(fields)-1]
		if bin, ok := f.installable[pkg]; ok {
			f.binaries[bin] = true
			return model.NewOutcome("", "")
		}
		return model.NewOutcome("", "E: Unable to locate package "+pkg+"\n")
	case strings.Contains(command, "--upgradable"):
		return model.NewOutcome(f.upgradable, "")
	}
	return model.NewOutcome("", "")
}

func (f *fakeSensor) ran(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

var defaultTools = []Tool{
	{Package: "stress", Binary: "stress"},
	{Package: "iperf3", Binary: "iperf3"},
	{Package: "mtr", Binary: "mtr"},
}

func sensor(addr string) model.SensorEndpoint {
	return model.SensorEndpoint{Hostname: "S1", Address: addr, Username: "sensorz"}
}

func TestParseTool(t *testing.T) {
	cases := []struct {
		spec    string
		want    Tool
		wantErr bool
	}{
		{"iperf3", Tool{"iperf3", "iperf3"}, false},
		{"dnsutils:dig", Tool{"dnsutils", "dig"}, false},
		{" mtr : ", Tool{"mtr", "mtr"}, false},
		{":dig", Tool{}, true},
		{"bad name", Tool{}, true},
		{"../x", Tool{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.spec, func(t *testing.T) {
			got, err := ParseTool(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	tools, err := ParseTools([]string{"stress", "stress", "dnsutils:dig"})
	if err != nil || len(tools) != 2 {
		t.Fatalf("duplicates not folded: %v %v", tools, err)
	}
	if _, err := ParseTools(nil); err == nil {
		t.Fatal("empty tool list must be rejected")
	}
}

func TestManagerFromPath(t *testing.T) {
	cases := map[string]PackageManager{
		"/usr/bin/apt-get\n": APT,
		"/usr/bin/dnf":       DNF,
		"/bin/yum\n":         YUM,
		"/sbin/apk":          APK,
		"":                   Unknown,
		"/usr/bin/pacman":    Unknown,
	}
	for in, want := range cases {
		if got := ManagerFromPath(in); got != want {
			t.Errorf("ManagerFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseUpgradable(t *testing.T) {
	cases := []struct {
		name    string
		manager PackageManager
		out     string
		want    []string
	}{
		{"apt", APT, "Listing...\nopenssl/jammy-updates 3.0.2-0ubuntu1.15 amd64 [upgradable from: 3.0.2-0ubuntu1.14]\nzeek/stable 6.0.3 amd64 [upgradable from: 6.0.2]\n", []string{"openssl", "zeek"}},
		{"dnf", DNF, "\nkernel.x86_64    5.14.0-427.el9    baseos\npython3.11.x86_64 3.11.7-1.el9 appstream\nObsoleting Packages\n", []string{"kernel", "python3.11"}},
		{"apk", APK, "Installed:                                Available:\nbusybox-1.36.1-r2 < 1.36.1-r5\nca-certificates-20230506-r0 < 20240226-r0\n", []string{"busybox", "ca-certificates"}},
		{"nothing", APT, "Listing...\n", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseUpgradable(tc.manager, tc.out)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckInstallsMissingTools(t *testing.T) {
	fake := &fakeSensor{
		manager:     "/usr/bin/apt-get",
		binaries:    map[string]bool{"stress": true},
		installable: map[string]string{"iperf3": "iperf3"},
		upgradable:  "Listing...\nzeek/stable 6.0.3 amd64 [upgradable from: 6.0.2]\n",
	}
	c := NewChecker(fake, failover.NewPolicy(probe.NewStaticProber(nil)), WithInstall(true), WithUpgradable(true))

	res := c.Check(context.Background(), sensor("10.8.0.1"), defaultTools)

	if res.PackageManager != APT || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if strings.Join(res.Present, ",") != "stress" || strings.Join(res.Installed, ",") != "iperf3" {
		t.Fatalf("present %v installed %v", res.Present, res.Installed)
	}
	if len(res.Failed) != 1 || res.Failed[0].Package != "mtr" || !strings.Contains(res.Failed[0].Error, "Unable to locate") {
		t.Fatalf("unexpected failures %+v", res.Failed)
	}
	if len(res.Missing) != 0 || res.OK() {
		t.Fatalf("missing %v ok %v", res.Missing, res.OK())
	}
	if strings.Join(res.Upgradable, ",") != "zeek" {
		t.Fatalf("upgradable %v", res.Upgradable)
	}
	if fake.ran("sudo -n apt-get update") != 1 {
		t.Fatal("package index should be refreshed once")
	}
}

func TestCheckWithoutInstallChangesNothing(t *testing.T) {
	fake := &fakeSensor{
		manager:     "/usr/bin/dnf",
		binaries:    map[string]bool{},
		installable: map[string]string{"iperf3": "iperf3"},
	}
	c := NewChecker(fake, failover.NewPolicy(probe.NewStaticProber(nil)))

	res := c.Check(context.Background(), sensor("10.8.0.1"), defaultTools)

	if strings.Join(res.Missing, ",") != "stress,iperf3,mtr" {
		t.Fatalf("missing %v", res.Missing)
	}
	if fake.ran("sudo") != 0 {
		t.Fatal("nothing may be installed without the install option")
	}
	if res.Upgradable != nil || fake.ran("dnf -q check-update") != 0 {
		t.Fatal("upgrades listed without being requested")
	}
}

func TestCheckFollowsFailover(t *testing.T) {
	exec := remote.NewMockExecutor()
	exec.Set("10.8.0.5", "", remote.MockResult{Err: remote.ErrDial})
	exec.Set("10.3.0.5", DetectCommand, remote.MockResult{Stdout: "/usr/bin/apt-get\n"})
	exec.Set("10.3.0.5", "", remote.MockResult{Stdout: "/usr/bin/tool\n"})

	policy := failover.NewPolicy(probe.NewStaticProber(map[string]bool{"10.3.0.5": true}))
	res := NewChecker(exec, policy).Check(context.Background(), sensor("10.8.0.5"), defaultTools)

	if !res.OK() || res.ActiveAddress != "10.3.0.5" || len(res.Present) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if exec.CallsTo("10.8.0.5") != 1 {
		t.Fatalf("original address tried %d times", exec.CallsTo("10.8.0.5"))
	}
	if policy.Log().Len() != 0 {
		t.Fatal("successful failover must not be recorded")
	}
}

func TestCheckStopsAfterTerminalFailover(t *testing.T) {
	exec := remote.NewMockExecutor()
	exec.Set("10.8.0.6", "", remote.MockResult{Err: remote.ErrAuth})

	policy := failover.NewPolicy(probe.NewStaticProber(nil))
	res := NewChecker(exec, policy, WithInstall(true)).Check(context.Background(), sensor("10.8.0.6"), defaultTools)

	if res.Failover == nil || res.Failover.Reason != failover.ReasonUnreachable {
		t.Fatalf("expected failover record, got %+v", res)
	}
	if !strings.Contains(res.Error, failover.ReasonUnreachable) || res.OK() {
		t.Fatalf("unexpected error %q", res.Error)
	}
	if len(exec.Calls()) != 1 || policy.Log().Len() != 1 {
		t.Fatalf("calls %v records %d", exec.Calls(), policy.Log().Len())
	}
}

func TestCheckFleetKeepsRegistryOrder(t *testing.T) {
	exec := remote.NewMockExecutor()
	exec.Set("", DetectCommand, remote.MockResult{Stdout: "/sbin/apk\n"})
	exec.Set("", "", remote.MockResult{Stdout: "/usr/bin/tool\n"})

	sensors := []model.SensorEndpoint{
		{Hostname: "S1", Address: "10.8.0.1"},
		{Hostname: "S2", Address: "10.8.0.2"},
		{Hostname: "S3", Address: "10.8.0.3"},
	}
	c := NewChecker(exec, failover.NewPolicy(probe.NewStaticProber(nil)), WithWorkers(2))
	results := c.CheckFleet(context.Background(), sensors, defaultTools)

	for i, r := range results {
		if r.Hostname != sensors[i].Hostname || r.PackageManager != APK || !r.OK() {
			t.Fatalf("result %d: %+v", i, r)
		}
	}
	if got := c.CheckFleet(context.Background(), nil, defaultTools); len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}
