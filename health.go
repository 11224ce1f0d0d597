package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/tinyland/lab/csp-billing-adapter/internal/timeutil"
)

// HealthStatus is the snapshot the daemon writes after every tick and
// the -health flag inspects.
type HealthStatus struct {
	Status            string        `json:"status"`
	LastTick          time.Time     `json:"last_tick"`
	NextBillTime      timeutil.Time `json:"next_bill_time"`
	NextReportingTime timeutil.Time `json:"next_reporting_time"`
	BillingOK         bool          `json:"billing_api_access_ok"`
}

// healthFile is the filename for the health snapshot within the storage directory.
const healthFile = "health.json"

// writeHealthFile writes the health snapshot to the storage directory.
func writeHealthFile(dir string, status HealthStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health status: %w", err)
	}

	path := filepath.Join(dir, healthFile)
	return os.WriteFile(path, data, 0600)
}

// readHealthFile reads the health snapshot from the storage directory.
func readHealthFile(dir string) (*HealthStatus, error) {
	path := filepath.Join(dir, healthFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read health file: %w", err)
	}

	var status HealthStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal health file: %w", err)
	}

	return &status, nil
}

// checkHealth reads the health snapshot and reports whether the adapter
// is healthy. Healthy means the snapshot exists and the last tick was
// within twice the query interval. Returns exit code 0 for healthy, 1
// for stale or missing.
func checkHealth(dir string, queryInterval time.Duration, jsonOutput bool) int {
	status, err := readHealthFile(dir)
	if err != nil {
		if jsonOutput {
			fmt.Println(`{"status":"missing","error":"no health file found"}`)
		} else {
			fmt.Fprintln(os.Stderr, "adapter not running (no health file)")
		}
		return 1
	}

	staleThreshold := 2 * queryInterval
	age := time.Since(status.LastTick)
	isStale := age > staleThreshold

	if jsonOutput {
		output := map[string]interface{}{
			"status":                status.Status,
			"last_tick":             status.LastTick.Format(time.RFC3339),
			"age":                   age.String(),
			"stale":                 isStale,
			"next_bill_time":        status.NextBillTime.String(),
			"next_reporting_time":   status.NextReportingTime.String(),
			"billing_api_access_ok": status.BillingOK,
		}
		data, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(data))
	} else {
		if isStale {
			fmt.Fprintf(os.Stderr, "adapter stale (last tick %s ago, threshold %s)\n", age.Round(time.Second), staleThreshold)
		} else {
			fmt.Printf("adapter healthy (last tick %s ago)\n", age.Round(time.Second))
			fmt.Printf("  next bill:   %s\n", status.NextBillTime)
			fmt.Printf("  next report: %s\n", status.NextReportingTime)
			if !status.BillingOK {
				fmt.Println("  billing API: failing, see csp_config errors")
			}
		}
	}

	if isStale {
		return 1
	}
	return 0
}
