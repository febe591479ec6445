package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorekeeper/recall/pkg/core"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/retrieval"
)

var (
	queryUser     string
	queryLimit    int
	queryStrategy string
	queryHistory  []string
	queryRerank   string
	queryJSON     bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve the most relevant memories for a query",
	Long: `Run the hybrid retrieval pipeline: query rewriting, intent routing,
semantic, keyword and entity search, fusion, reranking and scoring.

An empty query lists the user's most recent memories.

Examples:
  recall query --user u1 "where did I go hiking with Ana?"
  recall query --user u1 --history "user:I saw Ana yesterday" "what did she recommend?"
  recall query --user u1 --strategy product --json "birthday"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryUser, "user", "u", "", "user id (required)")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "l", 0, "maximum results (default from config)")
	queryCmd.Flags().StringVarP(&queryStrategy, "strategy", "s", "", "ranking strategy: hybrid or product")
	queryCmd.Flags().StringArrayVar(&queryHistory, "history", nil, "conversation turn as role:content, oldest first (repeatable)")
	queryCmd.Flags().StringVar(&queryRerank, "rerank", "", "force reranking on or off: true or false")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	_ = queryCmd.MarkFlagRequired("user")
}

func runQuery(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	}

	opts := []core.RetrieveOption{core.WithQuery(text)}
	if queryLimit > 0 {
		opts = append(opts, core.WithLimit(queryLimit))
	}
	if queryStrategy != "" {
		opts = append(opts, core.WithStrategy(retrieval.Strategy(queryStrategy)))
	}
	if len(queryHistory) > 0 {
		history, err := parseHistory(queryHistory)
		if err != nil {
			return err
		}
		opts = append(opts, core.WithHistory(history))
	}
	switch queryRerank {
	case "":
	case "true":
		opts = append(opts, core.WithReranking(true))
	case "false":
		opts = append(opts, core.WithReranking(false))
	default:
		return fmt.Errorf("--rerank must be true or false")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	mc := client.Retrieve(context.Background(), queryUser, opts...)
	if queryJSON {
		return printJSON(mc)
	}
	printContext(mc)
	return nil
}

func parseHistory(turns []string) ([]memory.Turn, error) {
	history := make([]memory.Turn, 0, len(turns))
	for _, t := range turns {
		role, content, ok := strings.Cut(t, ":")
		if !ok {
			return nil, fmt.Errorf("history turn %q is not role:content", t)
		}
		history = append(history, memory.Turn{Role: strings.TrimSpace(role), Content: strings.TrimSpace(content)})
	}
	return history, nil
}

func printContext(mc *core.MemoryContext) {
	if mc.Route != nil {
		fmt.Printf("query type: %s (%s)  strategy: %s  request: %s\n",
			mc.Route.QueryType, mc.Route.Method, mc.Strategy, mc.RequestID)
	}
	if mc.Rewrite != nil && len(mc.Rewrite.Expanded) > 0 {
		fmt.Printf("expanded:   %s\n", strings.Join(mc.Rewrite.Expanded, " | "))
	}
	if mc.Fallback {
		fmt.Fprintf(os.Stderr, "fallback: %s\n", mc.FallbackReason)
	}
	for _, b := range mc.Branches {
		fmt.Printf("  branch %-8s %-9s %3d hits %5dms %s\n", b.Name, b.Outcome, b.Count, b.ElapsedMS, b.Error)
	}
	printScored(mc.Memories)
}

func printScored(memories []memory.Scored) {
	if len(memories) == 0 {
		fmt.Println("No memories found.")
		return
	}
	fmt.Println()
	for i, m := range memories {
		fmt.Printf("%2d. [%.3f] %s  %s\n", i+1, m.FinalScore, m.CreatedAt.Format("2006-01-02"), truncate(m.Content, 100))
	}
}
