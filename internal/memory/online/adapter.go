// Package online adapts a remote memory service (recall + message
// storage) into this agent's local memory surface, without touching the
// existing vector-backed internal/memory.Manager. Grounded on
// online_memory_adapter.py's search/bundle and memories/messages
// contract.
package online

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fieldstonelabs/cadagent/internal/net/ssrf"
)

// Config configures the online memory adapter. A zero-value Enabled
// leaves every method a no-op, matching spec.md §6's graceful-degrade
// contract for missing ONLINE_MEMORY_* credentials.
type Config struct {
	Enabled   bool
	BaseURL   string
	ProjectID string
	APIKey    string

	// OAuth2, when non-nil, requests a client-credentials token for
	// every request instead of using APIKey as a static bearer token.
	OAuth2 *clientcredentials.Config

	HTTPClient *http.Client
	Timeout    time.Duration
}

// Adapter is the online memory client.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	tokenSrc   oauth2.TokenSource
}

// New builds an Adapter from cfg. Returns a disabled adapter (every call
// a no-op) if cfg.Enabled is false or cfg.BaseURL is empty.
func New(cfg Config) *Adapter {
	a := &Adapter{cfg: cfg}
	if !cfg.Enabled || strings.TrimSpace(cfg.BaseURL) == "" {
		a.cfg.Enabled = false
		return a
	}
	a.cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// BaseURL is an operator-supplied config value, not user input, so
	// this only rejects the well-known dangerous hostnames (cloud
	// metadata endpoints and the like) rather than the full
	// private-IP/DNS check ValidatePublicHostname performs -- a private
	// network deployment of the memory service is a legitimate setup.
	if parsed, err := url.Parse(a.cfg.BaseURL); err == nil && ssrf.IsBlockedHostname(parsed.Hostname()) {
		slog.Warn("online memory base_url targets a blocked hostname, disabling adapter",
			"base_url", a.cfg.BaseURL)
		a.cfg.Enabled = false
		return a
	}

	if cfg.HTTPClient != nil {
		a.httpClient = cfg.HTTPClient
	} else {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		a.httpClient = &http.Client{Timeout: timeout}
	}

	if cfg.OAuth2 != nil {
		a.tokenSrc = cfg.OAuth2.TokenSource(context.Background())
	}

	return a
}

// Enabled reports whether the adapter will make any network calls.
func (a *Adapter) Enabled() bool { return a.cfg.Enabled }

// RecalledMemory is one item in a recall_memories result: a fact,
// conversation turn, or topic summary surfaced by the remote service.
type RecalledMemory struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecallOptions configures a RecallMemories call.
type RecallOptions struct {
	TopK        int
	EnableGraph bool
	MaxHops     int
}

// RecallMemories queries the remote memory service's search/bundle
// endpoint and flattens its short_term_memory/bundles response into a
// uniform list, matching recall_memories' contract. A disabled adapter,
// or any request/parse failure, returns an empty list rather than an
// error -- memory recall degrades silently, it never fails a turn.
func (a *Adapter) RecallMemories(ctx context.Context, query string, opts RecallOptions) []RecalledMemory {
	if !a.cfg.Enabled {
		return nil
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	body := map[string]any{
		"project_id": a.cfg.ProjectID,
		"query":      query,
		"top_k":      opts.TopK,
	}
	if opts.EnableGraph {
		maxHops := opts.MaxHops
		if maxHops <= 0 {
			maxHops = 1
		}
		body["expansions"] = map[string]any{
			"graph": map[string]any{"enabled": true, "max_hops": maxHops},
		}
	}

	var resp bundleResponse
	if err := a.post(ctx, "/memories/search/bundle", body, &resp); err != nil {
		return nil
	}
	return resp.flatten()
}

type bundleResponse struct {
	ShortTermMemory *struct {
		Conversations []conversationItem `json:"conversations"`
	} `json:"short_term_memory"`
	Bundles []bundleItem `json:"bundles"`
}

type conversationItem struct {
	Text    string `json:"text"`
	ChunkID string `json:"chunk_id"`
	Speaker string `json:"speaker"`
}

type factItem struct {
	FactText string `json:"fact_text"`
	FactID   string `json:"fact_id"`
}

type topicItem struct {
	Summary string `json:"summary"`
	TopicID string `json:"topic_id"`
}

type bundleItem struct {
	BundleID      string             `json:"bundle_id"`
	Facts         []factItem         `json:"facts"`
	Conversations []conversationItem `json:"conversations"`
	Topics        []topicItem        `json:"topics"`
}

func (r *bundleResponse) flatten() []RecalledMemory {
	var out []RecalledMemory

	if r.ShortTermMemory != nil {
		for _, conv := range r.ShortTermMemory.Conversations {
			out = append(out, RecalledMemory{
				Content: conv.Text,
				Source:  "online_memory_short_term",
				Type:    "conversation",
				Metadata: map[string]any{
					"chunk_id": conv.ChunkID,
					"speaker":  conv.Speaker,
					"indexed":  false,
				},
			})
		}
	}

	for _, bundle := range r.Bundles {
		for _, fact := range bundle.Facts {
			out = append(out, RecalledMemory{
				Content: fact.FactText,
				Source:  "online_memory_fact",
				Type:    "fact",
				Metadata: map[string]any{
					"fact_id":   fact.FactID,
					"bundle_id": bundle.BundleID,
				},
			})
		}
		for _, conv := range bundle.Conversations {
			out = append(out, RecalledMemory{
				Content: conv.Text,
				Source:  "online_memory_conversation",
				Type:    "conversation",
				Metadata: map[string]any{
					"chunk_id":  conv.ChunkID,
					"speaker":   conv.Speaker,
					"bundle_id": bundle.BundleID,
					"indexed":   true,
				},
			})
		}
		for _, topic := range bundle.Topics {
			out = append(out, RecalledMemory{
				Content: topic.Summary,
				Source:  "online_memory_topic",
				Type:    "topic",
				Metadata: map[string]any{
					"topic_id":  topic.TopicID,
					"bundle_id": bundle.BundleID,
				},
			})
		}
	}

	return out
}

// StoreResult is the remote service's acknowledgement of a stored
// message.
type StoreResult struct {
	ChunkID string `json:"chunk_id"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status,omitempty"`
}

// StoreMessage stores a conversation turn on the remote memory service
// (memories/messages). A disabled adapter is a no-op returning (nil,
// nil); a request failure is returned to the caller since, unlike
// recall, a store failure may be worth surfacing (e.g. for a retry
// queue).
func (a *Adapter) StoreMessage(ctx context.Context, text, userID, sessionID, role string, async bool) (*StoreResult, error) {
	if !a.cfg.Enabled {
		return nil, nil
	}

	speaker := "agent"
	if role == "user" {
		speaker = "user"
	}

	body := map[string]any{
		"project_id": a.cfg.ProjectID,
		"message": map[string]any{
			"text":    text,
			"user_id": userID,
			"run_id":  sessionID,
			"speaker": speaker,
		},
		"async_mode": async,
	}

	var resp StoreResult
	if err := a.post(ctx, "/memories/messages", body, &resp); err != nil {
		if ctx.Err() != nil {
			return &StoreResult{Status: "timeout"}, nil
		}
		return nil, err
	}
	return &resp, nil
}

func (a *Adapter) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := a.authenticate(ctx, req); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (a *Adapter) authenticate(ctx context.Context, req *http.Request) error {
	if a.tokenSrc != nil {
		tok, err := a.tokenSrc.Token()
		if err != nil {
			return err
		}
		tok.SetAuthHeader(req)
		return nil
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	return nil
}
