package agent

import (
	"strings"
	"testing"

	"github.com/fieldstonelabs/cadagent/pkg/models"
)

func TestToolResultGuardInactiveByDefault(t *testing.T) {
	var g ToolResultGuard
	in := models.ToolResult{Content: "api_key=abcdefghijklmnopqrstuvwxyz"}
	got := g.Apply("search", in)
	if got.Content != in.Content {
		t.Fatalf("expected an inactive guard to leave content untouched, got %q", got.Content)
	}
}

func TestToolResultGuardRedactsDenylistedTool(t *testing.T) {
	g := ToolResultGuard{Denylist: []string{"database_operation"}, RedactionText: "[BLOCKED]"}
	got := g.Apply("database_operation", models.ToolResult{Content: "rows: 42"})
	if got.Content != "[BLOCKED]" {
		t.Fatalf("expected denylisted tool output fully redacted, got %q", got.Content)
	}
}

func TestToolResultGuardSanitizesSecrets(t *testing.T) {
	g := ToolResultGuard{SanitizeSecrets: true}
	got := g.Apply("search", models.ToolResult{Content: `api_key="sk-abcdefghijklmnopqrstuvwx"`})
	if strings.Contains(got.Content, "sk-abcdefghijklmnopqrstuvwx") {
		t.Fatalf("expected the secret to be redacted, got %q", got.Content)
	}
}

func TestToolResultGuardAppliesCustomRedactPatterns(t *testing.T) {
	g := ToolResultGuard{RedactPatterns: []string{`\d{3}-\d{2}-\d{4}`}}
	got := g.Apply("lookup", models.ToolResult{Content: "ssn: 123-45-6789"})
	if strings.Contains(got.Content, "123-45-6789") {
		t.Fatalf("expected the custom pattern to be redacted, got %q", got.Content)
	}
}

func TestToolResultGuardTruncatesOverMaxChars(t *testing.T) {
	g := ToolResultGuard{MaxChars: 10, TruncateSuffix: "...[cut]"}
	got := g.Apply("search", models.ToolResult{Content: "0123456789abcdefghij"})
	if !strings.HasSuffix(got.Content, "...[cut]") {
		t.Fatalf("expected truncation suffix, got %q", got.Content)
	}
	if len(got.Content) != 10+len("...[cut]") {
		t.Fatalf("expected content cut to MaxChars plus suffix, got %q (%d chars)", got.Content, len(got.Content))
	}
}

func TestToolResultGuardPreservesIsError(t *testing.T) {
	g := ToolResultGuard{MaxChars: 5}
	got := g.Apply("search", models.ToolResult{Content: "too long to keep", IsError: true})
	if !got.IsError {
		t.Fatal("expected IsError to survive guard application")
	}
}

func TestDetectSecretsFindsKnownPatterns(t *testing.T) {
	matches := DetectSecrets(`token="abcdefghijklmnopqrstuvwxyz"`)
	if len(matches) == 0 {
		t.Fatal("expected at least one secret pattern match")
	}
}

func TestDetectSecretsEmptyContent(t *testing.T) {
	if matches := DetectSecrets(""); matches != nil {
		t.Fatalf("expected no matches for empty content, got %v", matches)
	}
}
