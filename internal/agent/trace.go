package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TraceWriter appends a Markdown block per turn to workspace/work_log_detailed.md
// (spec §4.13). Writes are append-only and serialized with a mutex since
// concurrent turns against the same session are not expected but the file
// itself may be shared across sessions in a single process.
type TraceWriter struct {
	mu   sync.Mutex
	path string
}

// NewTraceWriter returns a writer targeting workspaceDir/work_log_detailed.md.
func NewTraceWriter(workspaceDir string) *TraceWriter {
	return &TraceWriter{path: filepath.Join(workspaceDir, "work_log_detailed.md")}
}

// WriteTurn appends one turn's block. Any error is logged at debug level
// and swallowed -- the turn's outcome never depends on trace persistence.
func (w *TraceWriter) WriteTurn(sessionID, skillID, userPrompt string, result *LoopResult) {
	if w == nil {
		return
	}
	block := w.render(sessionID, skillID, userPrompt, result)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		slog.Debug("trace write failed: mkdir", "error", err)
		return
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Debug("trace write failed: open", "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(block); err != nil {
		slog.Debug("trace write failed: write", "error", err)
	}
}

func (w *TraceWriter) render(sessionID, skillID, userPrompt string, result *LoopResult) string {
	var b strings.Builder

	shortSession := sessionID
	if len(shortSession) > 8 {
		shortSession = shortSession[:8]
	}
	if skillID == "" {
		skillID = "auto"
	}

	fmt.Fprintf(&b, "## Turn %s — session %s — skill %s\n\n", time.Now().Format(time.RFC3339), shortSession, skillID)

	b.WriteString("### User Prompt\n\n")
	b.WriteString(truncateRunes(userPrompt, 2000))
	b.WriteString("\n\n")

	if len(result.LoopAdvisories) > 0 {
		b.WriteString("### Loop Review Hints\n\n")
		for _, a := range result.LoopAdvisories {
			fmt.Fprintf(&b, "- **%s**: %s\n", a.Kind, a.Message)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Iteration Trace\n\n")
	for _, it := range result.IterationTraces {
		fmt.Fprintf(&b, "#### Iteration %d\n\n", it.Iteration)
		if it.Plan != "" {
			fmt.Fprintf(&b, "- Plan: %s\n", it.Plan)
		}
		if it.Reasoning != "" {
			fmt.Fprintf(&b, "- Reasoning: %s\n", it.Reasoning)
		}
		for _, a := range it.Advisories {
			fmt.Fprintf(&b, "- Advisory: %s\n", a)
		}
		for _, tc := range it.ToolCalls {
			fmt.Fprintf(&b, "- Tool `%s` (cached=%t, success=%t)", tc.Name, tc.Cached, tc.Success)
			if tc.Error != "" {
				fmt.Fprintf(&b, " error=%q", tc.Error)
			}
			b.WriteString("\n")
			fmt.Fprintf(&b, "  - args: `%s`\n", truncateRunes(tc.Args, 800))
			if imgPath, ok := extractImagePath(tc.Content); ok {
				fmt.Fprintf(&b, "  - ![result](%s)\n", imgPath)
			}
		}
		fmt.Fprintf(&b, "- Progress: %s\n\n", it.Summary)
	}

	b.WriteString("### Final Answer\n\n")
	b.WriteString(truncateRunes(result.Text, 3000))
	b.WriteString("\n\n---\n\n")

	return b.String()
}

// extractImagePath pulls data.image_path out of a sanitized envelope JSON,
// if present, so the trace can embed a Markdown image reference.
func extractImagePath(envelopeJSON string) (string, bool) {
	var env struct {
		Data struct {
			ImagePath string `json:"image_path"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		return "", false
	}
	if env.Data.ImagePath == "" {
		return "", false
	}
	return env.Data.ImagePath, true
}
