// cmd/sensorqa/discover.go
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sensorqa/internal/discovery"
)

var (
	discoverXML      string
	discoverNetwork  string
	discoverNmap     string
	discoverOutput   string
	discoverUsername string
	discoverCredRef  string
	discoverPort     int
	discoverPrefixes []string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Build a sensor registry from an nmap scan",
	Long: `Reads nmap XML output (or runs nmap against --network) and writes a
sensor registry listing every host with the SSH port open.

Examples:
  sensorqa discover --xml scan.xml --username sensorz -o config/sensors.yaml
  sensorqa discover --network 10.8.0.0/24 --username sensorz --prefix 10.8`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	f := discoverCmd.Flags()
	f.StringVar(&discoverXML, "xml", "", "nmap XML file to read")
	f.StringVar(&discoverNetwork, "network", "", "Network to scan with nmap instead of reading --xml")
	f.StringVar(&discoverNmap, "nmap", "nmap", "Path to the nmap binary")
	f.StringVarP(&discoverOutput, "output", "o", "", "Registry file to write (default stdout)")
	f.StringVar(&discoverUsername, "username", "", "SSH username for discovered sensors")
	f.StringVar(&discoverCredRef, "credential-ref", "", "Credential reference for discovered sensors")
	f.IntVar(&discoverPort, "port", 22, "SSH port a sensor must have open")
	f.StringSliceVar(&discoverPrefixes, "prefix", nil, "Only keep addresses under these prefixes")
	discoverCmd.MarkFlagsOneRequired("xml", "network")
	discoverCmd.MarkFlagsMutuallyExclusive("xml", "network")
	_ = discoverCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	setupLogging(loggingFromFlags())

	var (
		source string
		input  io.Reader
	)
	if discoverXML != "" {
		data, err := os.ReadFile(discoverXML)
		if err != nil {
			return fmt.Errorf("failed to read nmap XML: %w", err)
		}
		source, input = discoverXML, bytes.NewReader(data)
	} else {
		data, err := discovery.Scan(context.Background(), discoverNmap, discoverNetwork, discoverPort)
		if err != nil {
			return err
		}
		source, input = "nmap scan of "+discoverNetwork, bytes.NewReader(data)
	}

	run, err := discovery.ParseNmapXML(input)
	if err != nil {
		return err
	}
	sensors := discovery.Sensors(run, discovery.Options{
		Username:      discoverUsername,
		CredentialRef: discoverCredRef,
		SSHPort:       discoverPort,
		Prefixes:      discoverPrefixes,
	})
	logrus.WithFields(logrus.Fields{
		"hosts":   len(run.Hosts),
		"sensors": len(sensors),
	}).Info("Discovery finished")

	var buf bytes.Buffer
	if err := discovery.WriteRegistry(&buf, sensors, source); err != nil {
		return err
	}
	if discoverOutput == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(discoverOutput, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Registry with %d sensors written to %s\n", len(sensors), discoverOutput)
	return nil
}
