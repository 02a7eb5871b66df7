package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterlabs/arbiter/internal/memory"
)

// RegisterBuiltins adds the built-in tools: long-term memory write and
// search, and a clock. The memory tools exercise the same store the
// reflection write-back uses, so anything the agent chooses to remember
// is searchable in later runs.
func RegisterBuiltins(r *Registry, mem *memory.Manager) {
	r.Register(&Tool{
		Name:        "remember",
		Description: "Save a piece of information to long-term memory so it is available in future conversations. Use for user preferences, corrections, and learned facts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The information to remember, as a standalone sentence",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "One of: user_preference, task_learning, domain_knowledge, tool_usage_pattern, error_and_fix, conversation_context",
				},
				"tags": map[string]any{
					"type":        "string",
					"description": "Comma-separated topic tags",
				},
				"importance": map[string]any{
					"type":        "number",
					"description": "How important this is, 0.0-1.0 (default 0.5)",
				},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", &ErrInvalidArguments{ToolName: "remember", Reason: "content is required"}
			}

			category := memory.CategoryConversationContext
			if c, ok := args["category"].(string); ok && c != "" {
				parsed, err := memory.ParseCategory(c)
				if err != nil {
					return "", &ErrInvalidArguments{ToolName: "remember", Reason: err.Error()}
				}
				category = parsed
			}

			importance := 0.5
			if imp, ok := args["importance"].(float64); ok {
				importance = imp
			}

			var tags []string
			if raw, ok := args["tags"].(string); ok && raw != "" {
				for _, tag := range strings.Split(raw, ",") {
					if t := strings.TrimSpace(tag); t != "" {
						tags = append(tags, t)
					}
				}
			}

			entry, err := mem.Remember(category, content, tags, importance)
			if err != nil {
				return "", fmt.Errorf("remember: %w", err)
			}
			return fmt.Sprintf("Remembered (id %s).", entry.ID), nil
		},
	})

	r.Register(&Tool{
		Name:        "recall",
		Description: "Search working and long-term memory for relevant information. Use before answering questions about the user's preferences or past conversations.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look for",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum results (default 5)",
				},
			},
			"required": []string{"query"},
		},
		AutoApprove: true, // read-only
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", &ErrInvalidArguments{ToolName: "recall", Reason: "query is required"}
			}

			limit := 5
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}

			entries, err := mem.Search(query, limit)
			if err != nil {
				return "", fmt.Errorf("recall: %w", err)
			}
			if len(entries) == 0 {
				return "No relevant memories found.", nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Found %d memories:\n", len(entries))
			for _, e := range entries {
				fmt.Fprintf(&b, "- [%s] %s\n", e.Category, e.Content)
			}
			return b.String(), nil
		},
	})

	r.Register(&Tool{
		Name:        "current_time",
		Description: "Get the current date and time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		AutoApprove: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().Format(time.RFC1123), nil
		},
	})
}
