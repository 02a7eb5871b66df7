// Package memory provides the two-tier memory system: a bounded
// in-process working memory for the current conversation, and a SQLite
// backed long-term store that survives restarts. A Manager fronts both
// tiers with blended relevance search and a deferred write queue so
// persistence never blocks the run loop.
package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category groups related long-term entries.
type Category string

const (
	CategoryUserPreference      Category = "user_preference"      // How the user likes things
	CategoryTaskLearning        Category = "task_learning"        // What worked or failed for a task
	CategoryDomainKnowledge     Category = "domain_knowledge"     // Facts about the problem domain
	CategoryToolUsagePattern    Category = "tool_usage_pattern"   // Which tools fit which situations
	CategoryErrorAndFix         Category = "error_and_fix"        // Mistakes and their corrections
	CategoryConversationContext Category = "conversation_context" // Context worth carrying forward
)

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryUserPreference, CategoryTaskLearning, CategoryDomainKnowledge,
		CategoryToolUsagePattern, CategoryErrorAndFix, CategoryConversationContext:
		return Category(s), nil
	default:
		return "", fmt.Errorf("unknown memory category: %q", s)
	}
}

// Entry is a single piece of memory, in either tier.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Category   Category  `json:"category"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags,omitempty"`
	Importance float64   `json:"importance"` // 0-1, mutable after the fact
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// NewEntry builds an entry with a fresh time-ordered ID.
func NewEntry(category Category, content string, tags []string, importance float64) Entry {
	id, _ := uuid.NewV7()
	now := time.Now().UTC()
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	return Entry{
		ID:         id,
		Category:   category,
		Content:    content,
		Tags:       tags,
		Importance: importance,
		CreatedAt:  now,
		AccessedAt: now,
	}
}
