// internal/model/sensor.go
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// DefaultSSHPort is used when a sensor entry does not carry a port.
const DefaultSSHPort = 22

// IPPlaceholder is substituted with the sensor address in command templates.
const IPPlaceholder = "{ip}"

// SensorEndpoint identifies one remote sensor. Values are copied, never
// shared for mutation: WithAddress returns a new endpoint.
type SensorEndpoint struct {
	Hostname      string `yaml:"hostname" json:"hostname"`
	Address       string `yaml:"ip_address" json:"ip_address"`
	Username      string `yaml:"username" json:"username"`
	CredentialRef string `yaml:"credential_ref,omitempty" json:"credential_ref,omitempty"`
	Port          int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// WithAddress returns a copy of the endpoint pointing at addr.
func (e SensorEndpoint) WithAddress(addr string) SensorEndpoint {
	e.Address = addr
	return e
}

// DialAddress returns host:port for the SSH transport.
func (e SensorEndpoint) DialAddress() string {
	port := e.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(e.Address, strconv.Itoa(port))
}

func (e SensorEndpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.Hostname, e.Address)
}

// TestDefinition is one named remote command inside a catalog category.
type TestDefinition struct {
	Category string `yaml:"-" json:"category" toml:"-"`
	Name     string `yaml:"name" json:"name" toml:"name"`
	Command  string `yaml:"command" json:"command" toml:"command"`
	LogCheck string `yaml:"log_check,omitempty" json:"log_check,omitempty" toml:"log_check"`
}

// Render substitutes the endpoint address into the primary command.
func (t TestDefinition) Render(e SensorEndpoint) string {
	return renderTemplate(t.Command, e)
}

// RenderLogCheck substitutes the endpoint address into the log-check command.
func (t TestDefinition) RenderLogCheck(e SensorEndpoint) string {
	return renderTemplate(t.LogCheck, e)
}

func renderTemplate(tmpl string, e SensorEndpoint) string {
	if !strings.Contains(tmpl, IPPlaceholder) {
		return tmpl
	}
	return strings.ReplaceAll(tmpl, IPPlaceholder, shellquote.Join(e.Address))
}

// Category is an ordered group of tests.
type Category struct {
	Name  string           `json:"name"`
	Tests []TestDefinition `json:"tests"`
}

// Catalog keeps categories in declaration order.
type Catalog struct {
	Categories []Category `json:"categories"`
}

// Len returns the total number of test definitions.
func (c *Catalog) Len() int {
	n := 0
	for _, cat := range c.Categories {
		n += len(cat.Tests)
	}
	return n
}
