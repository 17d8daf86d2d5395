package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fieldstonelabs/cadagent/internal/agent"
	"github.com/fieldstonelabs/cadagent/internal/agent/providers"
	"github.com/fieldstonelabs/cadagent/internal/cadtools"
	"github.com/fieldstonelabs/cadagent/internal/config"
	"github.com/fieldstonelabs/cadagent/internal/memory"
	"github.com/fieldstonelabs/cadagent/internal/memory/embeddings"
	"github.com/fieldstonelabs/cadagent/internal/memory/embeddings/ollama"
	"github.com/fieldstonelabs/cadagent/internal/memory/embeddings/openai"
	"github.com/fieldstonelabs/cadagent/internal/memory/online"
	"github.com/fieldstonelabs/cadagent/internal/models"
	"github.com/fieldstonelabs/cadagent/internal/ratelimit"
	"github.com/fieldstonelabs/cadagent/internal/sessions"
	"github.com/fieldstonelabs/cadagent/internal/skills"
	"github.com/fieldstonelabs/cadagent/internal/workspace"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// runtime bundles the components a turn needs: the tool registry, the
// skill catalog, session storage, the bounded agent loop, and the
// optional online-memory adapter.
type runtime struct {
	cfg          *config.Config
	db           *sql.DB
	registry     *agent.ToolRegistry
	loop         *agent.Loop
	sessionStore sessions.Store
	skillsLoader *skills.FilesystemLoader
	skillsStore  *skills.Store
	onlineMemory *online.Adapter
	memoryMgr    *memory.Manager
	workspaceCtx *workspace.WorkspaceContext
	trace        *agent.TraceWriter
	skillFilter  skills.FilterFunc
}

// buildRuntime loads configuration and constructs every component a
// serve/doctor/skills command needs. The database connection is optional
// -- a blank DSN yields a nil *sql.DB, and the database_operation tool
// degrades to reporting "no database configured" rather than failing
// startup.
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	rt := &runtime{cfg: cfg}

	if strings.TrimSpace(cfg.Database.URL) != "" {
		driver := "postgres"
		if strings.HasPrefix(cfg.Database.URL, "sqlite") || strings.HasSuffix(cfg.Database.URL, ".db") {
			driver = "sqlite3"
		}
		db, err := sql.Open(driver, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Database.MaxConnections > 0 {
			db.SetMaxOpenConns(cfg.Database.MaxConnections)
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		}
		rt.db = db
	}

	rt.sessionStore = sessions.NewMemoryStore()

	if cfg.VectorMemory.Enabled {
		mgr, err := memory.NewManager(&cfg.VectorMemory)
		if err != nil {
			slog.Warn("vector memory unavailable, search tool will degrade", "error", err)
		} else {
			rt.memoryMgr = mgr
		}
	}

	rt.onlineMemory = online.New(online.Config{
		Enabled:   cfg.CAD.OnlineMemory.Enabled,
		BaseURL:   cfg.CAD.OnlineMemory.BaseURL,
		ProjectID: cfg.CAD.OnlineMemory.ProjectID,
		APIKey:    cfg.CAD.OnlineMemory.APIKey,
	})

	rt.skillsLoader = &skills.FilesystemLoader{SkillsPath: cfg.CAD.SkillsDir}
	if emb, err := buildSkillEmbedder(cfg.VectorMemory.Embeddings); err != nil {
		slog.Warn("skill retrieval embedder unavailable, retrieve_skills will rank nothing", "error", err)
	} else {
		rt.skillsLoader.Embedder = emb
	}
	rt.skillsStore = &skills.Store{Loader: rt.skillsLoader, DB: rt.db}

	workspaceRoot := cfg.Workspace.Path
	if strings.TrimSpace(cfg.CAD.WorkspaceDir) != "" {
		workspaceRoot = cfg.CAD.WorkspaceDir
	}
	rt.trace = agent.NewTraceWriter(workspaceRoot)

	if cfg.Workspace.Enabled {
		if _, err := workspace.EnsureWorkspaceFiles(workspaceRoot, workspace.BootstrapFilesForConfig(cfg), false); err != nil {
			slog.Warn("workspace bootstrap failed", "error", err)
		}
		loaderCfg := workspace.LoaderConfigFromConfig(cfg)
		loaderCfg.Root = workspaceRoot
		if wctx, err := workspace.LoadWorkspace(loaderCfg); err != nil {
			slog.Warn("workspace load failed", "error", err)
		} else {
			rt.workspaceCtx = wctx
		}
	}

	rt.registry = agent.NewToolRegistry()
	rt.registry.Register(cadtools.RenderableBoundsTool{}, agent.VisualizationTemplate{})
	rt.registry.Register(cadtools.ExtractEntitiesTool{}, agent.VisualizationTemplate{})
	rt.registry.Register(cadtools.InspectRegionTool{WorkspaceDir: cfg.CAD.WorkspaceDir}, agent.VisualizationTemplate{})
	rt.registry.Register(cadtools.DatabaseOperationTool{DB: rt.db}, agent.VisualizationTemplate{})
	rt.registry.Register(cadtools.SearchTool{Memory: rt.memoryMgr}, agent.VisualizationTemplate{})

	if cfg.Tools.Execution.RateLimit.Enabled {
		limiterCfg := ratelimit.DefaultConfig()
		if cfg.Tools.Execution.RateLimit.RequestsPerSecond > 0 {
			limiterCfg.RequestsPerSecond = cfg.Tools.Execution.RateLimit.RequestsPerSecond
		}
		if cfg.Tools.Execution.RateLimit.BurstSize > 0 {
			limiterCfg.BurstSize = cfg.Tools.Execution.RateLimit.BurstSize
		}
		rt.registry.Limiter = ratelimit.NewLimiter(limiterCfg)
	}

	provider, err := buildProviderWithFallback(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	loop := agent.NewLoop(provider, rt.registry)
	loop.Config = agent.LoopConfig{
		MaxIterations:       cfg.CAD.Loop.MaxIterations,
		MaxToolCallsPerTurn: cfg.CAD.Loop.MaxToolCallsPerTurn,
		RepeatThreshold:     cfg.CAD.Loop.RepeatThreshold,
	}
	if exec := cfg.Tools.Execution; exec.Timeout > 0 || exec.MaxAttempts > 0 || exec.RetryBackoff > 0 {
		loop.Executor = agent.NewToolExecutor(rt.registry, agent.ToolExecConfig{
			PerToolTimeout: exec.Timeout,
			MaxAttempts:    exec.MaxAttempts,
			RetryBackoff:   exec.RetryBackoff,
		})
	}
	loop.Guard = agent.ToolResultGuard{
		Enabled:         cfg.Tools.Execution.ResultGuard.Enabled,
		MaxChars:        cfg.Tools.Execution.ResultGuard.MaxChars,
		Denylist:        cfg.Tools.Execution.ResultGuard.Denylist,
		RedactPatterns:  cfg.Tools.Execution.ResultGuard.RedactPatterns,
		RedactionText:   cfg.Tools.Execution.ResultGuard.RedactionText,
		TruncateSuffix:  cfg.Tools.Execution.ResultGuard.TruncateSuffix,
		SanitizeSecrets: cfg.Tools.Execution.ResultGuard.SanitizeSecrets,
	}
	rt.loop = loop

	rt.skillFilter = newLLMSkillFilter(provider, cfg.LLM.Providers[strings.ToLower(cfg.LLM.DefaultProvider)].DefaultModel)

	return rt, nil
}

// buildProvider resolves cfg.DefaultProvider into an LLMProvider. A
// missing API key degrades to a provider that will fail individual
// completions rather than refusing to start (spec.md §6).
func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	provCfg := cfg.Providers[name]

	switch name {
	case "", "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  provCfg.APIKey,
			BaseURL: provCfg.BaseURL,
		})
	case "openai", "moonshot", "deepseek":
		return providers.NewOpenAIProvider(provCfg.APIKey), nil
	case "bedrock":
		if provCfg.DiscoverModels {
			discoverBedrockCatalog(provCfg.Region)
		}
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:          provCfg.Region,
			AccessKeyID:     provCfg.AccessKeyID,
			SecretAccessKey: provCfg.SecretAccessKey,
			DefaultModel:    provCfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.DefaultProvider)
	}
}

// buildProviderWithFallback resolves cfg.DefaultProvider into a provider,
// trying cfg.FallbackChain entries in order if the primary fails to
// construct. It runs the candidate list through models.RunWithModelFallback
// so a misconfigured or unreachable primary (bad provider name, SDK client
// construction error) degrades to the next entry instead of refusing to
// start, with the attempt history logged via the provider/model identity
// each candidate represents.
func buildProviderWithFallback(cfg config.LLMConfig) (agent.LLMProvider, error) {
	primaryName := strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if primaryName == "" {
		primaryName = "anthropic"
	}
	primaryModel := cfg.Providers[primaryName].DefaultModel
	if primaryModel == "" {
		primaryModel = "default"
	}
	fallbackCfg := &models.FallbackConfig{
		PrimaryProvider: primaryName,
		PrimaryModel:    primaryModel,
	}
	for _, name := range cfg.FallbackChain {
		fallbackName := strings.ToLower(strings.TrimSpace(name))
		fallbackModel := cfg.Providers[fallbackName].DefaultModel
		if fallbackModel == "" {
			fallbackModel = "default"
		}
		fallbackCfg.Fallbacks = append(fallbackCfg.Fallbacks, fallbackName+"/"+fallbackModel)
	}

	run := func(_ context.Context, providerName, _ string) (agent.LLMProvider, error) {
		candidateCfg := cfg
		candidateCfg.DefaultProvider = providerName
		provider, err := buildProvider(candidateCfg)
		if err != nil {
			// Any construction failure (unknown name, bad credentials) is
			// worth trying the next candidate over, rather than the narrow
			// set classifyErrorReason recognizes by message content.
			return nil, models.NewFailoverError(err, providerName, "", models.ReasonUnavailable)
		}
		return provider, nil
	}
	onError := func(providerName, model string, err error, attempt, total int) {
		slog.Warn("llm provider construction failed, trying next candidate",
			"provider", providerName, "model", model, "attempt", attempt, "total", total, "error", err)
	}

	result, err := models.RunWithModelFallback(context.Background(), fallbackCfg, run, onError)
	if err != nil {
		return nil, err
	}
	return result.Result, nil
}

// discoverBedrockCatalog queries the account's active Bedrock foundation
// models and registers them with a throwaway catalog purely to surface the
// list in logs; startup never blocks on it failing.
func discoverBedrockCatalog(region string) {
	discovery := models.NewBedrockDiscovery(models.BedrockDiscoveryConfig{
		Enabled: true,
		Region:  region,
	}, slog.Default())
	catalog := models.NewCatalog()
	if err := discovery.RegisterWithCatalog(context.Background(), catalog); err != nil {
		slog.Warn("bedrock model discovery failed", "error", err)
		return
	}
	ids := make([]string, 0)
	for _, m := range catalog.ListByProvider(models.ProviderBedrock) {
		ids = append(ids, m.ID)
	}
	slog.Info("bedrock model catalog discovered", "count", len(ids), "models", ids)
}

// buildSkillEmbedder constructs the embedding provider retrieve_skills
// uses to rank candidate skills against a turn's query, independent of
// whether the fuller vector-memory search backend is enabled -- a skill
// catalog is small enough that embedding it costs little even when full
// semantic search is off.
func buildSkillEmbedder(cfg memory.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(ollama.Config{BaseURL: cfg.OllamaURL, Model: cfg.Model})
	case "openai", "":
		return openai.New(openai.Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func (rt *runtime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
}
