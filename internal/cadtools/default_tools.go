package cadtools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fieldstonelabs/cadagent/internal/agent"
	"github.com/fieldstonelabs/cadagent/internal/memory"
	"github.com/fieldstonelabs/cadagent/pkg/models"
)

var databaseOperationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "operation": {"type": "string", "enum": ["query", "exec"], "description": "query returns rows, exec runs a statement"},
    "sql": {"type": "string"},
    "args": {"type": "array", "items": {}}
  },
  "required": ["operation", "sql"]
}`)

// DatabaseOperationTool is one of the two default tools (spec §4.6) a
// skill falls back to when it declares no tools of its own. It runs a
// parameterized statement against the configured SQL database (skill
// persistence, fact storage) and returns rows or the affected-row count.
//
// The registry's execute_tool contract ("invokes the stored function with
// db only when the function declares it") maps in Go to this tool simply
// holding its own *sql.DB rather than receiving one injected per call --
// Go has no reflection-free way to omit an unused parameter, so the
// db-or-not branch collapses to a constructor-time decision instead of a
// per-call one.
type DatabaseOperationTool struct {
	DB *sql.DB
}

func (DatabaseOperationTool) Name() string            { return "database_operation" }
func (DatabaseOperationTool) Description() string     { return "Runs a query or statement against the skill/fact database." }
func (DatabaseOperationTool) Schema() json.RawMessage { return databaseOperationSchema }

func (t DatabaseOperationTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.DB == nil {
		return errorResult("no database configured"), nil
	}

	var args struct {
		Operation string        `json:"operation"`
		SQL       string        `json:"sql"`
		Args      []any         `json:"args"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	switch args.Operation {
	case "query":
		rows, err := t.DB.QueryContext(ctx, args.SQL, args.Args...)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return errorResult(err.Error()), nil
		}
		var out []map[string]any
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return errorResult(err.Error()), nil
			}
			row := map[string]any{}
			for i, c := range cols {
				row[c] = vals[i]
			}
			out = append(out, row)
		}
		data, _ := json.Marshal(map[string]any{"rows": out, "row_count": len(out)})
		return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil

	case "exec":
		res, err := t.DB.ExecContext(ctx, args.SQL, args.Args...)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		affected, _ := res.RowsAffected()
		data, _ := json.Marshal(map[string]any{"rows_affected": affected})
		return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil

	default:
		return errorResult(fmt.Sprintf("unknown operation %q", args.Operation)), nil
	}
}

var searchSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "top_k": {"type": "integer", "default": 5}
  },
  "required": ["query"]
}`)

// SearchTool is the other default tool: a semantic search over the
// configured vector-memory store (facts, prior findings, skill content).
type SearchTool struct {
	Memory *memory.Manager
	Scope  models.MemoryScope
}

func (SearchTool) Name() string            { return "search" }
func (SearchTool) Description() string     { return "Semantic search over stored facts and prior findings." }
func (SearchTool) Schema() json.RawMessage { return searchSchema }

func (t SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.Memory == nil {
		data, _ := json.Marshal(map[string]any{"results": []any{}})
		return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil
	}

	var args struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.TopK <= 0 {
		args.TopK = 5
	}

	resp, err := t.Memory.Search(ctx, &models.SearchRequest{
		Query: args.Query,
		Limit: args.TopK,
		Scope: t.Scope,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, _ := json.Marshal(map[string]any{"results": resp.Results})
	return &agent.ToolResult{Content: string(envelope(true, data, ""))}, nil
}
