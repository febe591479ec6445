package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekeeper/recall/pkg/core"
)

var (
	searchUser     string
	searchLimit    int
	searchMinScore float64
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Plain semantic search ranked by similarity, recency and confidence",
	Long: `Search a user's memories without rewriting, routing or fusion.

Examples:
  recall search --user u1 "hiking"
  recall search --user u1 --limit 5 --min-score 0.2 --json "ramen"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchUser, "user", "u", "", "user id (required)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "drop results scoring below this")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	_ = searchCmd.MarkFlagRequired("user")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	opts := []core.SearchOption{core.WithMinScore(searchMinScore)}
	if searchLimit > 0 {
		opts = append(opts, core.WithLimitForSearch(searchLimit))
	}

	results, err := client.Search(context.Background(), searchUser, query, opts...)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(struct {
			Query   string `json:"query"`
			Count   int    `json:"count"`
			Results any    `json:"results"`
		}{Query: query, Count: len(results), Results: results})
	}
	printScored(results)
	return nil
}
