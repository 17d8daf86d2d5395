package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldstonelabs/cadagent/internal/agent"
	"github.com/fieldstonelabs/cadagent/internal/skills"
)

// newLLMSkillFilter builds a skills.FilterFunc that asks provider to pick,
// at most, one skill and some relevant facts out of the retrieved
// candidates (filter_skills_and_facts). model selects the completion
// model; an empty string defers to the provider's default.
func newLLMSkillFilter(provider agent.LLMProvider, model string) skills.FilterFunc {
	return func(ctx context.Context, userQuery string, candidateSkills []skills.RankedSkill, candidateFacts []string) (*skills.SkillFacts, error) {
		if provider == nil || len(candidateSkills) == 0 {
			return &skills.SkillFacts{FactIDs: []int{}}, nil
		}

		req := &agent.CompletionRequest{
			Model:  model,
			System: `You select at most one skill and any relevant facts for the user's query. Reply with JSON only, no prose: {"skill_id": string|null, "fact_ids": [int], "reasoning": string}.`,
			Messages: []agent.CompletionMessage{
				{Role: "user", Content: buildSkillFilterPrompt(userQuery, candidateSkills, candidateFacts)},
			},
			MaxTokens: 512,
		}

		chunks, err := provider.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("filter completion: %w", err)
		}

		var text strings.Builder
		for chunk := range chunks {
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			text.WriteString(chunk.Text)
		}

		var facts skills.SkillFacts
		if err := json.Unmarshal([]byte(extractJSONObject(text.String())), &facts); err != nil {
			return nil, fmt.Errorf("parse filter response: %w", err)
		}
		return &facts, nil
	}
}

func buildSkillFilterPrompt(userQuery string, candidateSkills []skills.RankedSkill, candidateFacts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\nCandidate skills:\n", userQuery)
	for _, rs := range candidateSkills {
		fmt.Fprintf(&b, "- %s: %s (similarity=%.3f)\n", rs.Skill.ID, rs.Skill.Description, rs.Similarity)
	}
	if len(candidateFacts) > 0 {
		b.WriteString("\nCandidate facts:\n")
		for i, f := range candidateFacts {
			fmt.Fprintf(&b, "%d. %s\n", i, f)
		}
	}
	return b.String()
}

// extractJSONObject strips a ```-fenced block down to the bare {...}
// object it wraps -- providers asked for "JSON only" frequently answer
// with a fenced code block anyway.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
