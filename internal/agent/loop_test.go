package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fieldstonelabs/cadagent/pkg/models"
)

// scriptedProvider replies with one scripted CompletionChunk stream per
// call to Complete, in order. Used to drive the loop through a fixed
// number of tool-call round-trips without a real LLM backend.
type scriptedProvider struct {
	responses [][]*CompletionChunk
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.responses) {
		return nil, ErrNoProvider
	}
	chunks := p.responses[p.calls]
	p.calls++

	ch := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model      { return nil }
func (p *scriptedProvider) SupportsTools() bool  { return true }

func toolCallChunk(id, name string, args map[string]any) *CompletionChunk {
	raw, _ := json.Marshal(args)
	return &CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: name, Input: raw}}
}

func textChunk(text string) *CompletionChunk {
	return &CompletionChunk{Text: text}
}

func TestLoopRunFinalizesWithoutToolCalls(t *testing.T) {
	provider := &scriptedProvider{
		responses: [][]*CompletionChunk{
			{textChunk("The building is 40m wide.")},
		},
	}
	loop := NewLoop(provider, NewToolRegistry())

	result, messages, err := loop.Run(context.Background(), "", "system prompt", []models.Message{
		{Role: models.RoleUser, Content: "how wide is the building?"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "The building is 40m wide." {
		t.Fatalf("unexpected final text: %q", result.Text)
	}
	if result.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", result.Iterations)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(messages))
	}
}

func TestLoopRunExecutesToolCallThenFinalizes(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&stubTool{
		name:   "renderable_bounds",
		result: &ToolResult{Content: `{"success":true,"data":{"width":100}}`},
	}, VisualizationTemplate{})

	provider := &scriptedProvider{
		responses: [][]*CompletionChunk{
			{toolCallChunk("call-1", "renderable_bounds", map[string]any{"layers": []string{"WALL"}})},
			{textChunk("The drawing is 100 units wide.")},
		},
	}
	loop := NewLoop(provider, registry)

	result, messages, err := loop.Run(context.Background(), "", "system", []models.Message{
		{Role: models.RoleUser, Content: "how wide is this?"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Text != "The drawing is 100 units wide." {
		t.Fatalf("unexpected final text: %q", result.Text)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "renderable_bounds" {
		t.Fatalf("expected a single recorded tool call, got %+v", result.ToolCalls)
	}
	if !result.ToolCalls[0].Success {
		t.Fatalf("expected the tool call to succeed, got %+v", result.ToolCalls[0])
	}

	var sawToolMessage bool
	for _, m := range messages {
		if m.Role == models.RoleTool {
			sawToolMessage = true
		}
	}
	if !sawToolMessage {
		t.Fatal("expected a tool-result message appended to history")
	}
}

func TestLoopRunCachesRepeatedIdenticalToolCalls(t *testing.T) {
	calls := 0
	registry := NewToolRegistry()
	registry.Register(&countingTool{name: "search", count: &calls}, VisualizationTemplate{})

	provider := &scriptedProvider{
		responses: [][]*CompletionChunk{
			{toolCallChunk("call-1", "search", map[string]any{"query": "walls"})},
			{toolCallChunk("call-2", "search", map[string]any{"query": "walls"})},
			{textChunk("done")},
		},
	}
	loop := NewLoop(provider, registry)
	loop.Config.RepeatThreshold = 2

	result, _, err := loop.Run(context.Background(), "", "system", []models.Message{
		{Role: models.RoleUser, Content: "find walls"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the underlying tool executed once (second call served from cache), got %d", calls)
	}
	if len(result.ToolCalls) != 2 {
		t.Fatalf("expected 2 recorded tool calls, got %d", len(result.ToolCalls))
	}
	if !result.ToolCalls[1].Cached {
		t.Fatal("expected the second identical call to be marked cached")
	}
	if len(result.LoopAdvisories) == 0 {
		t.Fatal("expected a repeat-signature advisory to fire at the configured threshold")
	}
}

type countingTool struct {
	name  string
	count *int
}

func (c *countingTool) Name() string           { return c.name }
func (c *countingTool) Description() string    { return "counts invocations" }
func (c *countingTool) Schema() json.RawMessage { return nil }
func (c *countingTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	*c.count++
	return &ToolResult{Content: `{"success":true,"data":{}}`}, nil
}

func TestLoopRunStopsAtMaxIterations(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&stubTool{name: "search", result: &ToolResult{Content: `{"success":true,"data":{}}`}}, VisualizationTemplate{})

	var responses [][]*CompletionChunk
	for i := 0; i < 3; i++ {
		responses = append(responses, []*CompletionChunk{toolCallChunk("call", "search", map[string]any{"n": i})})
	}
	responses = append(responses, []*CompletionChunk{textChunk("final answer after budget message")})

	provider := &scriptedProvider{responses: responses}
	loop := NewLoop(provider, registry)
	loop.Config.MaxIterations = 3

	result, _, err := loop.Run(context.Background(), "", "system", []models.Message{
		{Role: models.RoleUser, Content: "keep searching"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Iterations != 3 {
		t.Fatalf("expected loop to stop at MaxIterations=3, got %d", result.Iterations)
	}
	if result.Text != "final answer after budget message" {
		t.Fatalf("expected the forced finalization turn's text, got %q", result.Text)
	}
}

func TestLoopRunReturnsErrorOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := NewLoop(&scriptedProvider{}, NewToolRegistry())
	_, _, err := loop.Run(ctx, "", "system", []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}, nil, nil)
	if err == nil {
		t.Fatal("expected a canceled context to return an error")
	}
}
