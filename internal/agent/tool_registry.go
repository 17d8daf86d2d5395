package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fieldstonelabs/cadagent/internal/ratelimit"
)

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }

// VisualizationTemplate holds the stage-specific message templates a tool
// can supply for its calling/success/error stages. Operations carries a
// further per-operation sub-map for tools like database_operation whose
// visualization depends on a named sub-action inside args.
type VisualizationTemplate struct {
	Calling    string
	Success    string
	Error      string
	Operations map[string]VisualizationTemplate
}

// ToolSchema is the provider-agnostic function-calling schema for one tool.
type ToolSchema struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// ToolEntry is a registered tool: its callable implementation plus the
// optional visualization templates used when narrating its execution.
type ToolEntry struct {
	Tool           Tool
	Visualizations VisualizationTemplate

	schemaOnce sync.Once
	schema     *jsonschema.Schema
}

// compiledSchema lazily compiles the tool's declared JSON Schema so
// repeated calls don't pay recompilation cost. A tool whose schema fails
// to compile is treated as unvalidated rather than fatally broken -- the
// call still proceeds, it just skips the schema gate.
func (e *ToolEntry) compiledSchema() *jsonschema.Schema {
	e.schemaOnce.Do(func() {
		raw := e.Tool.Schema()
		if len(raw) == 0 {
			return
		}
		compiler := jsonschema.NewCompiler()
		url := "mem://" + e.Tool.Name() + ".json"
		if err := compiler.AddResource(url, bytesReader(raw)); err != nil {
			return
		}
		s, err := compiler.Compile(url)
		if err != nil {
			return
		}
		e.schema = s
	})
	return e.schema
}

// defaultToolNames is the fixed fallback tool set returned by
// get_default_tools when a skill declares no tools of its own.
var defaultToolNames = []string{"database_operation", "search"}

// ToolRegistry maps tool names to their implementations. It is populated
// once at startup and treated as read-only during turns; concurrent reads
// from many turns are safe, the mutex only guards registration.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolEntry

	// Limiter, when set, throttles Execute calls per tool name. A tool
	// hammered by a runaway loop degrades to a rate_limited error
	// envelope instead of hitting its backing store unbounded.
	Limiter *ratelimit.Limiter
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolEntry)}
}

// Register adds or replaces a tool. Name uniqueness is enforced by
// overwrite; insertion order is not preserved.
func (r *ToolRegistry) Register(t Tool, viz VisualizationTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = &ToolEntry{Tool: t, Visualizations: viz}
}

// Get returns the named tool entry, if registered.
func (r *ToolRegistry) Get(name string) (*ToolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// Names returns every registered tool name, sorted for deterministic output.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetToolsByNames returns schemas for the given names in the order
// requested, silently skipping any name that isn't registered.
func (r *ToolRegistry) GetToolsByNames(names []string) []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(names))
	for _, n := range names {
		e, ok := r.tools[n]
		if !ok {
			continue
		}
		out = append(out, schemaFor(e.Tool))
	}
	return out
}

// GetDefaultTools returns schemas for the fixed default tool set
// ({database_operation, search}), skipping any that aren't registered.
func (r *ToolRegistry) GetDefaultTools() []ToolSchema {
	return r.GetToolsByNames(defaultToolNames)
}

func schemaFor(t Tool) ToolSchema {
	var s ToolSchema
	s.Type = "function"
	s.Function.Name = t.Name()
	s.Function.Description = t.Description()
	s.Function.Parameters = t.Schema()
	return s
}

// Execute invokes the named tool and normalizes its result into the
// canonical envelope shape. A call to an unregistered tool is itself a
// normal error envelope, not a panic or Go error -- the agent loop must
// never crash because the model hallucinated a tool name.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	e, ok := r.Get(name)
	if !ok {
		return &ToolResult{
			Content: normalizeEnvelopeJSON(map[string]any{
				"success": false,
				"error":   fmt.Sprintf("unknown tool %q", name),
			}),
			IsError: true,
		}, nil
	}

	if r.Limiter != nil && !r.Limiter.Allow(name) {
		return &ToolResult{
			Content: normalizeEnvelopeJSON(map[string]any{
				"success": false,
				"error":   fmt.Sprintf("rate limit exceeded for tool %q", name),
			}),
			IsError: true,
		}, nil
	}

	if schema := e.compiledSchema(); schema != nil {
		var v any
		if err := json.Unmarshal(params, &v); err == nil {
			if verr := schema.Validate(v); verr != nil {
				return &ToolResult{
					Content: normalizeEnvelopeJSON(map[string]any{
						"success": false,
						"error":   fmt.Sprintf("invalid arguments: %v", verr),
					}),
					IsError: true,
				}, nil
			}
		}
	}

	result, err := e.Tool.Execute(ctx, params)
	if err != nil {
		return &ToolResult{
			Content: normalizeEnvelopeJSON(map[string]any{
				"success": false,
				"error":   err.Error(),
			}),
			IsError: true,
		}, nil
	}

	result.Content = NormalizeEnvelope(result.Content)
	return result, nil
}

// NormalizeEnvelope takes a tool's raw JSON output and ensures it is a
// canonical {success, data|error} envelope (spec I4 / §4.6):
//   - a non-object or an object without a "success" key is wrapped as
//     {success: true, data: raw}
//   - an object with an "error" key but no "success" key is treated as
//     {success: false, error: ...}
//   - an object that already carries "success" is left as-is, unless its
//     "data" field is itself a {success,...}-shaped object -- a tool that
//     forwards another tool's raw envelope as its own data nests one
//     envelope inside the other, and that inner envelope is unwrapped one
//     level so the caller always sees a single flat shape
//
// Idempotent: normalizing an already-normalized envelope is a no-op.
func NormalizeEnvelope(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return normalizeEnvelopeJSON(map[string]any{"success": true, "data": nil})
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return normalizeEnvelopeJSON(map[string]any{"success": true, "data": raw})
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return normalizeEnvelopeJSON(map[string]any{"success": true, "data": generic})
	}

	if _, hasSuccess := obj["success"]; hasSuccess {
		if nested, ok := obj["data"].(map[string]any); ok {
			if _, nestedHasSuccess := nested["success"]; nestedHasSuccess {
				return normalizeEnvelopeJSON(nested)
			}
		}
		return raw
	}

	if errVal, hasError := obj["error"]; hasError {
		env := map[string]any{"success": false, "error": errVal}
		for k, v := range obj {
			if k == "error" {
				continue
			}
			env[k] = v
		}
		return normalizeEnvelopeJSON(env)
	}

	return normalizeEnvelopeJSON(map[string]any{"success": true, "data": obj})
}

func normalizeEnvelopeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"success":false,"error":"serialization failed"}`
	}
	return string(b)
}

// FormatVisualization resolves the stage-specific ("calling"/"success"/
// "error") template for a tool, descending into the operation sub-map for
// database_operation-style tools when args carries an "operation" field,
// and substitutes named {field} placeholders from args. A field absent
// from args is left as the literal placeholder rather than causing an
// error -- the template still renders, just less specifically.
func (r *ToolRegistry) FormatVisualization(name string, args map[string]any, stage string) string {
	e, ok := r.Get(name)
	if !ok {
		return ""
	}
	tmpl := e.Visualizations

	if op, ok := args["operation"].(string); ok && tmpl.Operations != nil {
		if sub, ok := tmpl.Operations[op]; ok {
			tmpl = sub
		}
	}

	var template string
	switch stage {
	case "calling":
		template = tmpl.Calling
	case "success":
		template = tmpl.Success
	case "error":
		template = tmpl.Error
	}
	if template == "" {
		return ""
	}
	return substituteFields(template, args)
}

func substituteFields(template string, args map[string]any) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		if template[i] == '{' {
			end := strings.IndexByte(template[i:], '}')
			if end > 0 {
				field := template[i+1 : i+end]
				if v, ok := args[field]; ok {
					fmt.Fprintf(&b, "%v", v)
				} else {
					b.WriteString(template[i : i+end+1])
				}
				i += end
				continue
			}
		}
		b.WriteByte(template[i])
	}
	return b.String()
}
