package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/categorizer/internal/core"
)

// cacheCmd manages the caches of a running server. A CLI process holds
// its own short-lived caches, so only the server's are worth clearing.
func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the caches of a running categorizer server",
	}

	var server, apiKey string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached schema and template on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clearServerCaches(cmd, server, apiKey)
			if err != nil {
				return err
			}
			return a.print(stats)
		},
	}
	f := clearCmd.Flags()
	f.StringVar(&server, "server", "http://localhost:8080", "Base URL of the categorizer server")
	f.StringVar(&apiKey, "api-key", "", "API key sent in the X-API-Key header")

	cmd.AddCommand(clearCmd)
	return cmd
}

func clearServerCaches(cmd *cobra.Command, server, apiKey string) (*core.Stats, error) {
	url := strings.TrimRight(server, "/") + "/api/cache/clear"
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clear caches: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return nil, fmt.Errorf("clear caches: %s (%s)", e.Message, e.Code)
		}
		return nil, fmt.Errorf("clear caches: server returned %s", resp.Status)
	}

	var stats core.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &stats, nil
}
