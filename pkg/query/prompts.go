package query

import (
	"fmt"
	"strings"

	"github.com/lorekeeper/recall/pkg/memory"
)

// DefaultRewriteInstructions is the default instruction text for query rewriting.
const DefaultRewriteInstructions = `Use the recent conversation to resolve pronouns and vague references in the query.
Preserve the original intent of the query.
If the query is already clear and unambiguous, leave it unchanged.`

// RewriteTemplate is the template for building query rewrite prompts.
const RewriteTemplate = `# Task
Rewrite the query as a standalone search query for a personal memory store, clarifying references using the recent conversation.

# Recent Conversation
%s

# Requirements
%s

# Output
Output only the rewritten query. Do not add any explanations.

# Query
%s`

func buildRewritePrompt(history []memory.Turn, query, customInstructions string) string {
	instructions := customInstructions
	if instructions == "" {
		instructions = DefaultRewriteInstructions
	}

	var b strings.Builder
	if len(history) == 0 {
		b.WriteString("(none)")
	}
	for _, t := range history {
		role := t.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(t.Content))
	}

	return fmt.Sprintf(RewriteTemplate, strings.TrimRight(b.String(), "\n"), instructions, query)
}
