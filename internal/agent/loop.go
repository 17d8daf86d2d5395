package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fieldstonelabs/cadagent/pkg/models"
)

// LoopConfig holds the tunable bounds of the agent loop (spec §4.11).
type LoopConfig struct {
	// MaxIterations caps how many LLM round-trips a single turn may take.
	MaxIterations int
	// MaxToolCallsPerTurn is a soft budget: crossing it produces an
	// advisory but never forcibly disables tools.
	MaxToolCallsPerTurn int
	// RepeatThreshold is how many times an identical tool-call signature
	// may recur before a one-time self-check advisory fires.
	RepeatThreshold int
}

// DefaultLoopConfig returns the spec's default bounds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:       20,
		MaxToolCallsPerTurn: 14,
		RepeatThreshold:     3,
	}
}

// ToolCallRecord is one executed (or cache-hit) tool call within a turn.
type ToolCallRecord struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Args       string `json:"args"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Cached     bool   `json:"cached"`
	Signature  string `json:"-"`
}

func (r ToolCallRecord) deepCopy() ToolCallRecord {
	c := r
	c.Cached = true
	return c
}

// IterationTrace captures one pass through the loop for the work log.
type IterationTrace struct {
	Iteration  int              `json:"iteration"`
	Plan       string           `json:"plan"`
	Reasoning  string           `json:"reasoning"`
	Advisories []string         `json:"advisories,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Summary    string           `json:"summary"`
}

// LoopAdvisory is a system-level note appended to conversation history and
// surfaced to the trace writer.
type LoopAdvisory struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// LoopResult is what _agent_loop returns (spec §4.11 termination shape).
type LoopResult struct {
	Text            string            `json:"text"`
	Iterations      int               `json:"iterations"`
	ToolCalls       []ToolCallRecord  `json:"tool_calls"`
	IterationTraces []IterationTrace  `json:"iteration_traces"`
	LoopAdvisories  []LoopAdvisory    `json:"loop_advisories"`
}

// StreamCallback receives incremental chunks as the loop progresses; may
// be nil.
type StreamCallback func(ResponseChunk)

// Loop runs the bounded agent loop against an LLMProvider and a
// ToolRegistry. It never returns an error for model or tool failures --
// those are captured into the structured LoopResult per spec §7; Run only
// returns an error for a canceled context.
type Loop struct {
	Provider  LLMProvider
	Registry  *ToolRegistry
	Sanitizer PayloadSanitizer
	Guard     ToolResultGuard
	Executor  *ToolExecutor
	Config    LoopConfig
}

// NewLoop constructs a Loop with default config, sanitizer, and a
// concurrent tool executor sized by DefaultToolExecConfig.
func NewLoop(provider LLMProvider, registry *ToolRegistry) *Loop {
	return &Loop{
		Provider:  provider,
		Registry:  registry,
		Sanitizer: NewPayloadSanitizer(),
		Executor:  NewToolExecutor(registry, DefaultToolExecConfig()),
		Config:    DefaultLoopConfig(),
	}
}

// Run executes the loop for one turn. messages is the full conversation
// history so far (including the newest user message); tools is the set
// available this turn (already resolved from the skill/default set). The
// returned message slice is messages plus every assistant/tool/system
// message the loop appended, ready to persist back to the session.
func (l *Loop) Run(ctx context.Context, model, system string, messages []models.Message, tools []Tool, stream StreamCallback) (*LoopResult, []models.Message, error) {
	cfg := l.Config
	if cfg.MaxIterations <= 0 {
		cfg = DefaultLoopConfig()
	}

	result := &LoopResult{}
	signatureCounts := map[string]int{}
	repeatFired := map[string]bool{}
	cache := map[string]ToolCallRecord{}
	budgetFired := false
	totalToolCalls := 0
	iteration := 0

	for ; iteration < cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return result, messages, err
		}

		text, reasoning, toolCalls, err := l.callLLM(ctx, model, system, messages, tools, stream)
		if err != nil {
			// LLMEmptyResponse and transport errors both terminate the
			// loop with whatever text has accumulated so far.
			loopErr := &LoopError{Phase: PhaseStream, Iteration: iteration + 1, Cause: err}
			result.LoopAdvisories = append(result.LoopAdvisories, LoopAdvisory{Kind: "provider_error", Message: loopErr.Error()})
			break
		}

		trace := IterationTrace{
			Iteration: iteration + 1,
			Plan:      truncateRunes(text, 500),
			Reasoning: truncateRunes(reasoning, 500),
		}

		if len(toolCalls) == 0 {
			messages = append(messages, assistantMessage(text, reasoning, nil))
			trace.Summary = "no tool calls; finalize response"
			result.IterationTraces = append(result.IterationTraces, trace)
			result.Text = text
			iteration++
			break
		}

		messages = append(messages, assistantMessage(text, reasoning, toolCalls))

		sigs := make([]string, len(toolCalls))
		sigErrs := make([]error, len(toolCalls))
		var toExecute []models.ToolCall
		for i, call := range toolCalls {
			sig, sigErr := signatureFor(call.Name, call.Input)
			sigs[i], sigErrs[i] = sig, sigErr
			if sigErr == nil {
				if _, cached := cache[sig]; !cached {
					toExecute = append(toExecute, call)
				}
			}
		}

		// Fresh (non-cached, well-formed) calls within this iteration
		// execute concurrently under the executor's semaphore/timeout/
		// retry policy; cache hits and malformed-argument calls are
		// resolved without touching the registry.
		var execResults []ToolExecResult
		if len(toExecute) > 0 {
			emit := func(e *models.RuntimeEvent) {
				if stream != nil {
					stream(ResponseChunk{Event: e})
				}
			}
			execResults = l.Executor.ExecuteConcurrently(ctx, toExecute, emit)
		}
		resultsByID := make(map[string]ToolExecResult, len(execResults))
		for _, er := range execResults {
			resultsByID[er.ToolCall.ID] = er
		}

		var summaryParts []string
		for i, call := range toolCalls {
			sig, sigErr := sigs[i], sigErrs[i]
			var rec ToolCallRecord

			if sigErr != nil {
				rec = ToolCallRecord{
					ToolCallID: call.ID,
					Name:       call.Name,
					Args:       string(call.Input),
					Content:    `{"success":false,"error":"invalid tool arguments"}`,
					Success:    false,
					Error:      "invalid tool arguments",
				}
			} else if cached, ok := cache[sig]; ok {
				rec = cached.deepCopy()
				rec.ToolCallID = call.ID
			} else {
				er := resultsByID[call.ID]
				content := er.Result.Content
				isErr := er.Result.IsError
				guarded := l.Guard.Apply(call.Name, models.ToolResult{Content: content, IsError: isErr})
				sanitized := l.Sanitizer.Sanitize(call.Name, guarded.Content)
				rec = ToolCallRecord{
					ToolCallID: call.ID,
					Name:       call.Name,
					Args:       truncateRunes(string(call.Input), 800),
					Content:    sanitized,
					Success:    !isErr,
					Signature:  sig,
				}
				if isErr {
					rec.Error = extractEnvelopeError(sanitized)
				}
				cache[sig] = rec
			}

			if sigErr == nil {
				signatureCounts[sig]++
				if signatureCounts[sig] == cfg.RepeatThreshold && !repeatFired[sig] {
					repeatFired[sig] = true
					advisory := fmt.Sprintf(
						"You have called %q with identical arguments %d times. Before calling it again, check whether you already have the evidence you need and finalize your answer if so.",
						call.Name, signatureCounts[sig],
					)
					messages = append(messages, systemMessage(advisory))
					result.LoopAdvisories = append(result.LoopAdvisories, LoopAdvisory{Kind: "repeat_signature", Message: advisory})
					trace.Advisories = append(trace.Advisories, advisory)
				}
			}

			messages = append(messages, toolResultMessage(call.ID, rec.Content, !rec.Success))
			trace.ToolCalls = append(trace.ToolCalls, rec)
			result.ToolCalls = append(result.ToolCalls, rec)
			summaryParts = append(summaryParts, summarizeCall(rec))
		}

		totalToolCalls += len(toolCalls)
		if totalToolCalls >= cfg.MaxToolCallsPerTurn && !budgetFired {
			budgetFired = true
			advisory := fmt.Sprintf("Tool call budget of %d for this turn has been reached; wrap up as soon as you have enough evidence.", cfg.MaxToolCallsPerTurn)
			messages = append(messages, systemMessage(advisory))
			result.LoopAdvisories = append(result.LoopAdvisories, LoopAdvisory{Kind: "tool_budget_warning", Message: advisory})
			trace.Advisories = append(trace.Advisories, advisory)
		}

		trace.Summary = strings.Join(summaryParts, " -> ")
		result.IterationTraces = append(result.IterationTraces, trace)
	}

	result.Iterations = iteration

	if result.Text == "" && iteration >= cfg.MaxIterations {
		messages = append(messages, systemMessage("Maximum iterations reached. Finalize your answer now without calling any further tools."))
		text, _, _, err := l.callLLM(ctx, model, system, messages, nil, stream)
		if err != nil {
			result.LoopAdvisories = append(result.LoopAdvisories, LoopAdvisory{Kind: "finalization_error", Message: err.Error()})
		} else {
			messages = append(messages, assistantMessage(text, "", nil))
			result.Text = text
		}
	}

	return result, messages, nil
}

// callLLM drains the provider's streaming channel into a single
// accumulated (text, reasoning, tool_calls) triple. An empty channel with
// no chunks at all is treated as LLMEmptyResponse.
func (l *Loop) callLLM(ctx context.Context, model, system string, messages []models.Message, tools []Tool, stream StreamCallback) (string, string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:    model,
		System:   system,
		Messages: convertMessages(messages),
		Tools:    tools,
	}

	ch, err := l.Provider.Complete(ctx, req)
	if err != nil {
		return "", "", nil, err
	}

	var text, reasoning strings.Builder
	var toolCalls []models.ToolCall
	sawChunk := false

	for chunk := range ch {
		sawChunk = true
		if chunk.Error != nil {
			return text.String(), reasoning.String(), toolCalls, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.Thinking != "" {
			reasoning.WriteString(chunk.Thinking)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if stream != nil {
			stream(ResponseChunk{Text: chunk.Text, Thinking: chunk.Thinking})
		}
	}

	if !sawChunk {
		return "", "", nil, ErrNoProvider
	}

	return text.String(), reasoning.String(), toolCalls, nil
}

func convertMessages(msgs []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			Attachments: m.Attachments,
		}
		if m.Role == models.RoleTool {
			isErr, _ := m.Metadata["is_error"].(bool)
			cm.ToolResults = []models.ToolResult{{
				ToolCallID: m.ToolCallID,
				Content:    m.Content,
				IsError:    isErr,
			}}
			cm.Content = ""
		}
		out = append(out, cm)
	}
	return out
}

func assistantMessage(content, reasoning string, toolCalls []models.ToolCall) models.Message {
	return models.Message{
		Role:             models.RoleAssistant,
		Content:          content,
		ReasoningContent: reasoning,
		ToolCalls:        toolCalls,
		CreatedAt:        time.Now(),
	}
}

func toolResultMessage(toolCallID, content string, isError bool) models.Message {
	return models.Message{
		Role:       models.RoleTool,
		ToolCallID: toolCallID,
		Content:    content,
		Metadata:   map[string]any{"is_error": isError},
		CreatedAt:  time.Now(),
	}
}

func systemMessage(content string) models.Message {
	return models.Message{
		Role:      models.RoleSystem,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// signatureFor computes the cache/repeat-guard key: the tool name plus
// the canonical (sorted-key) JSON of its arguments.
func signatureFor(name string, args json.RawMessage) (string, error) {
	canon, err := canonicalJSON(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(name + ":" + canon))
	return name + ":" + hex.EncodeToString(sum[:]), nil
}

// canonicalJSON re-marshals arbitrary JSON through Go's map encoding,
// which sorts object keys, producing a stable signature regardless of
// the original key order.
func canonicalJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func summarizeCall(rec ToolCallRecord) string {
	status := "ok"
	if !rec.Success {
		status = "err"
	}
	if rec.Cached {
		status += ",cached"
	}
	return fmt.Sprintf("%s(%s)", rec.Name, status)
}

func extractEnvelopeError(envelopeJSON string) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		return ""
	}
	return env.Error
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
