// Package main implements the loomctl CLI for operations against the
// loomd daemon's HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	version   = "dev"

	apiClient = &http.Client{Timeout: 30 * time.Second}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loomctl",
	Short: "CLI for the loomd pipeline daemon",
	Long: `loomctl talks to a running loomd daemon over its HTTP API.
It creates tasks, submits and follows pipeline runs, and checks daemon health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9876", "loomd server URL")
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check loomd daemon health",
	Example: `  loomctl health
  loomctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse mirrors the daemon's /health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	fmt.Printf("Status:  %s\n", health.Status)
	fmt.Printf("Service: %s\n", health.Service)
	fmt.Printf("Server:  %s\n", serverURL)
	return nil
}

// getJSON issues a GET against the daemon and decodes the 200 response
// into out.
func getJSON(path string, out interface{}) error {
	resp, err := apiClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from loomd: %w", err)
	}
	return nil
}

// postJSON issues a POST against the daemon, expecting wantStatus. A nil
// body sends an empty request; a nil out discards the response body.
func postJSON(path string, body interface{}, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from loomd: %w", err)
	}
	return nil
}

// statusError turns a non-success response into an error carrying the
// response body, which is where the daemon puts its message.
func statusError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("loomd returned status %d (failed to read body: %w)", resp.StatusCode, err)
	}
	return fmt.Errorf("loomd returned status %d: %s", resp.StatusCode, string(body))
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
