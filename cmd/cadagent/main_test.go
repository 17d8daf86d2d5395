package main

import (
	"testing"

	"github.com/fieldstonelabs/cadagent/internal/config"
)

func TestBuildRootCmdRegistersSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "skills", "doctor", "service"} {
		if !names[want] {
			t.Errorf("expected subcommand %q to be registered", want)
		}
	}
}

func TestResolveConfigPathDefaultsWhenBlank(t *testing.T) {
	if got := resolveConfigPath(""); got == "" {
		t.Fatalf("expected a default config path, got empty string")
	}
}

func TestBuildProviderRejectsUnknownProvider(t *testing.T) {
	_, err := buildProvider(config.LLMConfig{DefaultProvider: "made-up-provider"})
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestBuildProviderDefaultsToAnthropic(t *testing.T) {
	provider, err := buildProvider(config.LLMConfig{})
	if err != nil {
		t.Fatalf("buildProvider() error = %v", err)
	}
	if provider.Name() != "anthropic" {
		t.Fatalf("expected anthropic provider by default, got %q", provider.Name())
	}
}

func TestBuildProviderWithFallbackFallsBackOnUnknownPrimary(t *testing.T) {
	provider, err := buildProviderWithFallback(config.LLMConfig{
		DefaultProvider: "made-up-provider",
		FallbackChain:   []string{"anthropic"},
	})
	if err != nil {
		t.Fatalf("buildProviderWithFallback() error = %v", err)
	}
	if provider.Name() != "anthropic" {
		t.Fatalf("expected fallback to anthropic, got %q", provider.Name())
	}
}

func TestBuildProviderWithFallbackFailsWhenNoCandidateWorks(t *testing.T) {
	_, err := buildProviderWithFallback(config.LLMConfig{
		DefaultProvider: "made-up-provider",
		FallbackChain:   []string{"also-made-up"},
	})
	if err == nil {
		t.Fatalf("expected error when every candidate is unknown")
	}
}

func TestBuildProviderBedrockRoute(t *testing.T) {
	provider, err := buildProvider(config.LLMConfig{
		DefaultProvider: "bedrock",
		Providers: map[string]config.LLMProviderConfig{
			"bedrock": {Region: "us-west-2"},
		},
	})
	if err != nil {
		t.Fatalf("buildProvider() error = %v", err)
	}
	if provider.Name() != "bedrock" {
		t.Fatalf("expected bedrock provider, got %q", provider.Name())
	}
}
