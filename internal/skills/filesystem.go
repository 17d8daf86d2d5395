package skills

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemSkillConfig is the config.json shape for a filesystem-first
// skill (spec §4.8): id, name, tools, version?, description?, model?,
// enabled=true, metadata?, visualizations?.
type FilesystemSkillConfig struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Tools          []string       `json:"tools"`
	Version        string         `json:"version,omitempty"`
	Description    string         `json:"description,omitempty"`
	Model          map[string]any `json:"model,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Visualizations map[string]any `json:"visualizations,omitempty"`
}

func (c FilesystemSkillConfig) enabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Skill is the filesystem-loaded skill, ready to drive a turn: its prompt
// template, declared tool set, and (if an embedder is configured) a
// retrieval embedding.
type Skill struct {
	ID             string
	Name           string
	PromptTemplate string
	ToolSet        []string
	Version        string
	Description    string
	ModelConfig    map[string]any
	Metadata       map[string]any
	Visualizations map[string]any
	Embedding      []float32
}

// SupportsVision reports whether this skill's declared model config asks
// for a vision-capable provider (SPEC_FULL.md §4.19).
func (s *Skill) SupportsVision() bool {
	if s == nil || s.ModelConfig == nil {
		return false
	}
	v, ok := s.ModelConfig["supports_vision"].(bool)
	return ok && v
}

// Embedder generates a retrieval embedding for a skill's prompt text.
// Loading proceeds without one; skills simply carry a nil Embedding and
// are excluded from retrieve_skills.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FilesystemLoader loads skills from a directory tree -- each
// subdirectory a skill, containing config.json and skill.md (spec §4.8).
type FilesystemLoader struct {
	SkillsPath string
	Embedder   Embedder
	Logger     *slog.Logger
}

func (l *FilesystemLoader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// LoadAll loads every enabled skill under SkillsPath. A skill that fails
// to load is skipped and its error collected rather than aborting the
// whole scan, matching load_all_skills's per-directory try/except.
func (l *FilesystemLoader) LoadAll(ctx context.Context) ([]*Skill, []error) {
	entries, err := os.ReadDir(l.SkillsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{err}
	}

	var skills []*Skill
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := l.Load(ctx, entry.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("skill %s: %w", entry.Name(), err))
			l.logger().Debug("skill load failed", "skill_id", entry.Name(), "error", err)
			continue
		}
		if skill != nil {
			skills = append(skills, skill)
		}
	}
	return skills, errs
}

// Load loads a single skill by directory name. A disabled skill returns
// (nil, nil) -- it is ignored, not an error.
func (l *FilesystemLoader) Load(ctx context.Context, id string) (*Skill, error) {
	dir := filepath.Join(l.SkillsPath, id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	configPath := filepath.Join(dir, "config.json")
	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config.json not found in %s", dir)
	}
	var cfg FilesystemSkillConfig
	if err := json.Unmarshal(configBytes, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config.json in %s: %w", dir, err)
	}
	if !cfg.enabled() {
		return nil, nil
	}

	mdPath := filepath.Join(dir, "skill.md")
	mdBytes, err := os.ReadFile(mdPath)
	if err != nil {
		return nil, fmt.Errorf("skill.md not found in %s", dir)
	}

	skill := &Skill{
		ID:             cfg.ID,
		Name:           cfg.Name,
		PromptTemplate: string(mdBytes),
		ToolSet:        cfg.Tools,
		Version:        cfg.Version,
		Description:    cfg.Description,
		ModelConfig:    cfg.Model,
		Metadata:       cfg.Metadata,
		Visualizations: cfg.Visualizations,
	}

	if l.Embedder != nil {
		emb, err := l.Embedder.Embed(ctx, skill.PromptTemplate)
		if err != nil {
			l.logger().Debug("skill embedding failed", "skill_id", skill.ID, "error", err)
		} else {
			skill.Embedding = emb
		}
	}

	return skill, nil
}

// ListIDs lists skill directories that carry a config.json, regardless
// of enabled state.
func (l *FilesystemLoader) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(l.SkillsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.SkillsPath, entry.Name(), "config.json")); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether id names a complete skill directory (both
// config.json and skill.md present).
func (l *FilesystemLoader) Exists(id string) bool {
	dir := filepath.Join(l.SkillsPath, id)
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "skill.md")); err != nil {
		return false
	}
	return true
}

// SyncSummary reports the outcome of SyncToDatabase.
type SyncSummary struct {
	Created []string
	Updated []string
	Errors  []SyncError
}

type SyncError struct {
	SkillID string
	Err     error
}

// SyncToDatabase upserts every loaded filesystem skill into db by id,
// updating name/prompt_template/tool_set/model_config/embedding on
// conflict. Individual failures are collected in the summary rather than
// aborting the batch (spec §4.8).
func (l *FilesystemLoader) SyncToDatabase(ctx context.Context, db *sql.DB) (*SyncSummary, error) {
	skillList, _ := l.LoadAll(ctx)
	summary := &SyncSummary{}

	for _, skill := range skillList {
		toolSet, _ := json.Marshal(skill.ToolSet)
		modelConfig, _ := json.Marshal(skill.ModelConfig)
		embedding, _ := json.Marshal(skill.Embedding)

		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM skills WHERE id = $1)`, skill.ID).Scan(&exists); err != nil {
			summary.Errors = append(summary.Errors, SyncError{SkillID: skill.ID, Err: err})
			continue
		}

		if exists {
			_, err := db.ExecContext(ctx,
				`UPDATE skills SET name = $1, prompt_template = $2, tool_set = $3, model_config = $4, embedding = $5 WHERE id = $6`,
				skill.Name, skill.PromptTemplate, toolSet, modelConfig, embedding, skill.ID)
			if err != nil {
				summary.Errors = append(summary.Errors, SyncError{SkillID: skill.ID, Err: err})
				continue
			}
			summary.Updated = append(summary.Updated, skill.ID)
		} else {
			_, err := db.ExecContext(ctx,
				`INSERT INTO skills (id, name, prompt_template, tool_set, model_config, embedding) VALUES ($1, $2, $3, $4, $5, $6)`,
				skill.ID, skill.Name, skill.PromptTemplate, toolSet, modelConfig, embedding)
			if err != nil {
				summary.Errors = append(summary.Errors, SyncError{SkillID: skill.ID, Err: err})
				continue
			}
			summary.Created = append(summary.Created, skill.ID)
		}
	}

	return summary, nil
}

// Store resolves skills preferring the filesystem copy over a database
// fallback (get_skill_by_id, spec §4.8).
type Store struct {
	Loader *FilesystemLoader
	DB     *sql.DB
}

func (s *Store) GetByID(ctx context.Context, id string) (*Skill, error) {
	if s.Loader != nil && s.Loader.Exists(id) {
		return s.Loader.Load(ctx, id)
	}
	if s.DB == nil {
		return nil, nil
	}

	var name, promptTemplate string
	var toolSetRaw, modelConfigRaw, embeddingRaw []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT name, prompt_template, tool_set, model_config, embedding FROM skills WHERE id = $1`, id,
	).Scan(&name, &promptTemplate, &toolSetRaw, &modelConfigRaw, &embeddingRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	skill := &Skill{ID: id, Name: name, PromptTemplate: promptTemplate}
	_ = json.Unmarshal(toolSetRaw, &skill.ToolSet)
	_ = json.Unmarshal(modelConfigRaw, &skill.ModelConfig)
	_ = json.Unmarshal(embeddingRaw, &skill.Embedding)
	return skill, nil
}

// RankedSkill is one result of retrieve_skills: a skill plus its cosine
// similarity to the query embedding.
type RankedSkill struct {
	Skill      *Skill
	Similarity float32
}

// RetrieveSkills ranks candidates by cosine similarity to queryEmbedding,
// descending, returning at most topK (spec §4.9). Skills catalogs are
// small enough in this domain (tens, not millions) that a brute-force
// scan needs no vector-index backend of its own -- candidates already
// came from FilesystemLoader.LoadAll.
func RetrieveSkills(candidates []*Skill, queryEmbedding []float32, topK int) []RankedSkill {
	if topK <= 0 {
		topK = 3
	}
	ranked := make([]RankedSkill, 0, len(candidates))
	for _, skill := range candidates {
		if len(skill.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, RankedSkill{Skill: skill, Similarity: cosineSimilarity(queryEmbedding, skill.Embedding)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

func cosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// SkillFacts is an LLM-produced filter decision over a turn's candidate
// skills and facts (filter_skills_and_facts, spec §4.9).
type SkillFacts struct {
	SkillID   *string `json:"skill_id"`
	FactIDs   []int   `json:"fact_ids"`
	Reasoning string  `json:"reasoning"`
}

// FilterFunc asks an LLM to pick, at most, one skill and some facts
// relevant to the user's query out of the retrieved candidates.
type FilterFunc func(ctx context.Context, userQuery string, candidateSkills []RankedSkill, candidateFacts []string) (*SkillFacts, error)

// FilterSkillsAndFacts runs filterFn and substitutes the empty decision
// {skill_id: null, fact_ids: []} on any error, so a filter failure
// degrades the turn instead of aborting it (spec §4.9).
func FilterSkillsAndFacts(ctx context.Context, filterFn FilterFunc, userQuery string, candidateSkills []RankedSkill, candidateFacts []string) *SkillFacts {
	result, err := filterFn(ctx, userQuery, candidateSkills, candidateFacts)
	if err != nil || result == nil {
		return &SkillFacts{FactIDs: []int{}}
	}
	if result.FactIDs == nil {
		result.FactIDs = []int{}
	}
	return result
}

// ErrSkillNotFound is returned when a fixed_skill_id names a skill that
// doesn't exist (spec §4.9's fixed-skill mode).
type ErrSkillNotFound struct {
	SkillID string
}

func (e *ErrSkillNotFound) Error() string {
	return fmt.Sprintf("skill not found: %s", e.SkillID)
}

// ResolveFixedSkill loads a skill directly by id, bypassing retrieval and
// the LLM filter. A missing skill is reported as ErrSkillNotFound rather
// than a bare nil.
func ResolveFixedSkill(ctx context.Context, store *Store, skillID string) (*Skill, error) {
	skillID = strings.TrimSpace(skillID)
	skill, err := store.GetByID(ctx, skillID)
	if err != nil {
		return nil, err
	}
	if skill == nil {
		return nil, &ErrSkillNotFound{SkillID: skillID}
	}
	return skill, nil
}

// ResolveToolNames applies the skill tool-set resolution fallback
// (SPEC_FULL.md §4.19): a skill naming a tool the registry doesn't have
// falls back to the registry's default tool names for this skill rather
// than failing the turn.
func ResolveToolNames(skillTools []string, registryHasTool func(name string) bool, defaultNames []string) []string {
	if len(skillTools) == 0 {
		return defaultNames
	}
	for _, name := range skillTools {
		if !registryHasTool(name) {
			return defaultNames
		}
	}
	return skillTools
}
