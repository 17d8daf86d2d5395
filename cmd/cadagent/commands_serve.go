package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fieldstonelabs/cadagent/internal/agent"
	"github.com/fieldstonelabs/cadagent/internal/memory/online"
	"github.com/fieldstonelabs/cadagent/internal/skills"
	"github.com/fieldstonelabs/cadagent/pkg/models"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an interactive agent session over stdin/stdout",
		Long: `Start a REPL: each line read from stdin is treated as a user turn
against a single session, resolved against the configured skill
(retrieval + LLM filter, or the fixed skill named by cad.skills.
fixedSkillId), and the agent's response text is printed to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return defaultConfigPath()
	}
	return path
}

func runServe(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cronScheduler := startCronJobs(ctx, rt.cfg, configPath); cronScheduler != nil {
		defer cronScheduler.Stop()
	}

	session, err := rt.sessionStore.GetOrCreate(ctx, "cli-session", rt.cfg.Session.DefaultAgentID, models.ChannelType("cli"), "cli")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	fmt.Fprintln(os.Stderr, "cadagent serve: type a message and press enter; Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	var history []models.Message

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		userMsg := models.Message{
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   line,
			CreatedAt: time.Now(),
		}
		history = append(history, userMsg)

		skill, recalled, err := resolveSkillForTurn(ctx, rt, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skill resolution failed: %v\n", err)
		}

		toolNames := defaultToolNames()
		system := "You are a CAD drawing analysis assistant."
		model := ""
		skillID := ""
		if skill != nil {
			skillID = skill.ID
			toolNames = skills.ResolveToolNames(skill.ToolSet, func(n string) bool {
				_, ok := rt.registry.Get(n)
				return ok
			}, defaultToolNames())
			system = skill.PromptTemplate
			if m, ok := skill.ModelConfig["model"].(string); ok {
				model = m
			}
		}
		if len(recalled) > 0 {
			system = system + "\n\n" + renderRecalledMemories(recalled)
		}
		if rt.workspaceCtx != nil {
			if ctxText := rt.workspaceCtx.SystemPromptContext(); ctxText != "" {
				system = system + "\n\n" + ctxText
			}
		}

		tools := toolsFor(rt, toolNames)
		result, updated, err := rt.loop.Run(ctx, model, system, history, tools, nil)
		if err != nil {
			return fmt.Errorf("loop run: %w", err)
		}
		history = updated
		rt.trace.WriteTurn(session.ID, skillID, line, result)

		fmt.Println(result.Text)

		if rt.onlineMemory.Enabled() {
			if _, err := rt.onlineMemory.StoreMessage(ctx, line, rt.cfg.Session.DefaultAgentID, session.ID, "user", true); err != nil {
				slog.Debug("online memory store failed", "error", err)
			}
		}
	}

	return scanner.Err()
}

func defaultToolNames() []string {
	return []string{"database_operation", "search"}
}

func toolsFor(rt *runtime, names []string) []agent.Tool {
	out := make([]agent.Tool, 0, len(names))
	for _, n := range names {
		if e, ok := rt.registry.Get(n); ok {
			out = append(out, e.Tool)
		}
	}
	return out
}

// resolveSkillForTurn implements the fixed-skill/retrieval branches of
// spec.md §4.9: a configured fixed skill always wins; otherwise every
// enabled filesystem skill is a retrieval candidate, ranked by cosine
// similarity to the query embedding (retrieve_skills), and an LLM filter
// picks at most one of the ranked candidates (filter_skills_and_facts).
// Online-memory recall for the same query runs concurrently with the
// filter rather than after it, since neither depends on the other's
// result (spec §5's concurrent-join requirement).
func resolveSkillForTurn(ctx context.Context, rt *runtime, userQuery string) (*skills.Skill, []online.RecalledMemory, error) {
	if fixed := strings.TrimSpace(rt.cfg.Skills.FixedSkillID); fixed != "" {
		skill, err := skills.ResolveFixedSkill(ctx, rt.skillsStore, fixed)
		return skill, nil, err
	}

	candidates, errs := rt.skillsLoader.LoadAll(ctx)
	for _, err := range errs {
		slog.Debug("skill load error", "error", err)
	}
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	var queryEmbedding []float32
	if rt.skillsLoader.Embedder != nil {
		if emb, err := rt.skillsLoader.Embedder.Embed(ctx, userQuery); err != nil {
			slog.Debug("query embedding failed", "error", err)
		} else {
			queryEmbedding = emb
		}
	}

	ranked := skills.RetrieveSkills(candidates, queryEmbedding, rt.cfg.Skills.RetrievalTopK)
	if len(ranked) == 0 {
		return candidates[0], nil, nil
	}

	var (
		wg       sync.WaitGroup
		recalled []online.RecalledMemory
		decision *skills.SkillFacts
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if rt.onlineMemory.Enabled() {
			recalled = rt.onlineMemory.RecallMemories(ctx, userQuery, online.RecallOptions{})
		}
	}()

	if rt.skillFilter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision = skills.FilterSkillsAndFacts(ctx, rt.skillFilter, userQuery, ranked, nil)
		}()
	}

	wg.Wait()

	if decision != nil && decision.SkillID != nil {
		for _, rs := range ranked {
			if rs.Skill.ID == *decision.SkillID {
				return rs.Skill, recalled, nil
			}
		}
	}

	return ranked[0].Skill, recalled, nil
}

// renderRecalledMemories formats online-memory recall results as a system
// prompt section so the turn's relevant prior context reaches the model
// without the agent needing to call a retrieval tool for it.
func renderRecalledMemories(recalled []online.RecalledMemory) string {
	var b strings.Builder
	b.WriteString("Relevant prior context:\n")
	for _, m := range recalled {
		fmt.Fprintf(&b, "- (%s) %s\n", m.Type, m.Content)
	}
	return b.String()
}
