// Package main provides qactl, the command-line client for the QA dataset
// registry HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

// registryClient wraps an HTTP client, the server base URL and the caller
// identity headers.
type registryClient struct {
	baseURL    string
	user       string
	groups     string
	token      string
	httpClient *http.Client
}

// do sends a request and decodes the JSON response into out when out is
// non-nil. Error responses are turned into errors carrying the server message.
func (c *registryClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := strings.TrimRight(c.baseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.Header.Set("X-Remote-User", c.user)
	}
	if c.groups != "" {
		req.Header.Set("X-Remote-Group", c.groups)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to registry at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			if msg := firstNonEmpty(errResp.Message, errResp.Error); msg != "" {
				return fmt.Errorf("server error (%d): %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// cli carries the global flags shared by every subcommand.
type cli struct {
	serverURL string
	output    string
	user      string
	groups    string
	token     string
	timeout   time.Duration
	client    *registryClient
	format    outputFormat
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "qactl",
		Short: "CLI for the QA dataset registry",
		Long: `qactl is a command-line tool for the QA dataset registry.

It creates and inspects questions and their immutable version history,
rolls questions back, compares versions, curates dataset versions and
reads the audit log.

The CLI communicates with the registry server HTTP API.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(c.output)
			if err != nil {
				return err
			}
			c.format = format
			if c.token == "" {
				c.token = os.Getenv("QACTL_TOKEN")
			}
			c.client = &registryClient{
				baseURL:    c.serverURL,
				user:       c.user,
				groups:     c.groups,
				token:      c.token,
				httpClient: &http.Client{Timeout: c.timeout},
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.serverURL, "server", envOrDefault("QACTL_SERVER", "http://localhost:8080"), "Registry server URL")
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&c.user, "user", os.Getenv("USER"), "Acting user; sets X-Remote-User")
	rootCmd.PersistentFlags().StringVar(&c.groups, "groups", "", "Comma-separated groups; sets X-Remote-Group")
	rootCmd.PersistentFlags().StringVar(&c.token, "token", "", "Bearer token (default: $QACTL_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(newQuestionsCmd(c))
	rootCmd.AddCommand(newVersionsCmd(c))
	rootCmd.AddCommand(newDatasetsCmd(c))
	rootCmd.AddCommand(newAuditCmd(c))
	return rootCmd
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
