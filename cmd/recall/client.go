package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lorekeeper/recall/pkg/core"
)

// loadConfig reads --config, or the environment when it is empty.
func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newClient(cfg *core.Config) (*core.Client, error) {
	client, err := core.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
