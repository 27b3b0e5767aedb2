// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// probeTimeout bounds each health probe request.
const probeTimeout = 2 * time.Second

// probes are queried in this order.
var probes = []string{"liveness", "readiness"}

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe      string `json:"probe"`
	Healthy    bool   `json:"healthy"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running holoauth",
		Long: `Query the liveness and readiness probes of a running holoauth on the
configured metrics address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if appCfg.Metrics.Addr == "" {
				return oops.Code("CONFIG_INVALID").Errorf("metrics.addr is empty, so there are no probes to query")
			}
			return runStatus(cmd, cfg, appCfg.Metrics.Addr)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus queries every probe at addr and prints the results.
func runStatus(cmd *cobra.Command, cfg *statusConfig, addr string) error {
	client := &http.Client{Timeout: probeTimeout}
	base := "http://" + addr

	statuses := make(map[string]ProbeStatus, len(probes))
	for _, probe := range probes {
		statuses[probe] = queryProbe(client, base, probe)
	}

	var output string
	var err error

	if cfg.jsonOutput {
		output, err = formatStatusJSON(statuses)
		if err != nil {
			return err
		}
	} else {
		output = formatStatusTable(statuses)
	}

	cmd.Println(output)
	return nil
}

// queryProbe calls /healthz/<probe> under base.
func queryProbe(client *http.Client, base, probe string) ProbeStatus {
	status := ProbeStatus{Probe: probe}

	resp, err := client.Get(base + "/healthz/" + probe)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	status.StatusCode = resp.StatusCode
	status.Body = strings.TrimSpace(string(body))
	status.Healthy = resp.StatusCode == http.StatusOK
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(statuses map[string]ProbeStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tCODE\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t------")

	for _, probe := range probes {
		status, ok := statuses[probe]
		if !ok {
			continue
		}
		switch {
		case status.Error != "":
			_, _ = fmt.Fprintf(w, "%s\tunreachable\t-\t%s\n", probe, status.Error)
		case status.Healthy:
			_, _ = fmt.Fprintf(w, "%s\tok\t%d\t%s\n", probe, status.StatusCode, status.Body)
		default:
			_, _ = fmt.Fprintf(w, "%s\tfailing\t%d\t%s\n", probe, status.StatusCode, status.Body)
		}
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(statuses map[string]ProbeStatus) (string, error) {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return "", oops.Code("FORMAT_FAILED").With("operation", "marshal status").Wrap(err)
	}
	return string(data), nil
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
