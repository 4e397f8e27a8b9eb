// Package decision supplies the interchangeable "what do I say next"
// strategies consulted by the executor between turns: fixed follow-up
// order, a learned pattern table, or an LLM-backed picker. Variants are
// selected by configuration, never by type switches in the engine.
package decision

import (
	"context"
	"fmt"
	"regexp"

	"github.com/corradofrancolini/chatbot-tester/internal/engine"
)

// FixedFollowup replays the test case's follow-ups in their written
// order and stops when they run out.
type FixedFollowup struct{}

func (FixedFollowup) Next(_ context.Context, _ []engine.ConversationTurn, followups []string) (string, bool, error) {
	if len(followups) == 0 {
		return "", false, nil
	}
	return followups[0], true, nil
}

// PatternRule maps a bot-message pattern to the reply to send when it
// matches. An empty reply ends the conversation on match.
type PatternRule struct {
	Pattern *regexp.Regexp
	Reply   string
}

// PatternTable answers from learned patterns: the first rule matching
// the latest bot message wins. With no match it falls back to the next
// unused follow-up, mirroring the fixed strategy.
type PatternTable struct {
	rules []PatternRule
}

// NewPatternTable compiles pattern -> reply pairs in order.
func NewPatternTable(pairs [][2]string) (*PatternTable, error) {
	t := &PatternTable{}
	for _, p := range pairs {
		re, err := regexp.Compile(p[0])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p[0], err)
		}
		t.rules = append(t.rules, PatternRule{Pattern: re, Reply: p[1]})
	}
	return t, nil
}

func (t *PatternTable) Next(_ context.Context, conversation []engine.ConversationTurn, followups []string) (string, bool, error) {
	last := lastAssistant(conversation)
	if last != "" {
		for _, rule := range t.rules {
			if rule.Pattern.MatchString(last) {
				if rule.Reply == "" {
					return "", false, nil
				}
				return rule.Reply, true, nil
			}
		}
	}
	if len(followups) == 0 {
		return "", false, nil
	}
	return followups[0], true, nil
}

func lastAssistant(conversation []engine.ConversationTurn) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == engine.RoleAssistant {
			return conversation[i].Content
		}
	}
	return ""
}
