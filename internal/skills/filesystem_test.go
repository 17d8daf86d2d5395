package skills

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, root, id string, cfg FilesystemSkillConfig, promptBody string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	cfg.ID = id
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o644); err != nil {
		t.Fatalf("WriteFile(config.json) error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.md"), []byte(promptBody), 0o644); err != nil {
		t.Fatalf("WriteFile(skill.md) error = %v", err)
	}
}

func TestFilesystemLoaderLoadAll(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "dimension-audit", FilesystemSkillConfig{
		Name:  "Dimension Audit",
		Tools: []string{"get_renderable_bounds", "extract_cad_entities"},
	}, "# Dimension Audit\nCheck for missing dimensions.")

	disabled := false
	writeSkill(t, root, "legacy-export", FilesystemSkillConfig{
		Name:    "Legacy Export",
		Tools:   []string{"database_operation"},
		Enabled: &disabled,
	}, "# Legacy Export")

	loader := &FilesystemLoader{SkillsPath: root}
	skillList, errs := loader.LoadAll(context.Background())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(skillList) != 1 {
		t.Fatalf("expected 1 enabled skill, got %d", len(skillList))
	}
	if skillList[0].ID != "dimension-audit" {
		t.Fatalf("unexpected skill loaded: %q", skillList[0].ID)
	}
	if skillList[0].PromptTemplate == "" {
		t.Fatalf("expected prompt template to be populated")
	}
}

func TestFilesystemLoaderLoadMissingFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken-skill")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"id":"broken-skill","name":"Broken"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := &FilesystemLoader{SkillsPath: root}
	_, err := loader.Load(context.Background(), "broken-skill")
	if err == nil {
		t.Fatalf("expected error for missing skill.md")
	}
}

func TestFilesystemLoaderExistsAndListIDs(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "title-block-reader", FilesystemSkillConfig{Name: "Title Block Reader"}, "# Title Block Reader")

	loader := &FilesystemLoader{SkillsPath: root}
	if !loader.Exists("title-block-reader") {
		t.Fatalf("expected skill to exist")
	}
	if loader.Exists("nonexistent") {
		t.Fatalf("expected nonexistent skill to be absent")
	}

	ids, err := loader.ListIDs()
	if err != nil {
		t.Fatalf("ListIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "title-block-reader" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestRetrieveSkillsRanksBySimilarity(t *testing.T) {
	candidates := []*Skill{
		{ID: "a", Embedding: []float32{1, 0, 0}},
		{ID: "b", Embedding: []float32{0, 1, 0}},
		{ID: "c", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "d"}, // no embedding, excluded
	}

	ranked := RetrieveSkills(candidates, []float32{1, 0, 0}, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected top_k=2 results, got %d", len(ranked))
	}
	if ranked[0].Skill.ID != "a" {
		t.Fatalf("expected exact match ranked first, got %q", ranked[0].Skill.ID)
	}
	if ranked[1].Skill.ID != "c" {
		t.Fatalf("expected near match ranked second, got %q", ranked[1].Skill.ID)
	}
	if ranked[0].Similarity < ranked[1].Similarity {
		t.Fatalf("expected descending similarity order")
	}
}

func TestFilterSkillsAndFactsSubstitutesEmptyOnError(t *testing.T) {
	filterFn := func(ctx context.Context, userQuery string, candidateSkills []RankedSkill, candidateFacts []string) (*SkillFacts, error) {
		return nil, os.ErrDeadlineExceeded
	}
	result := FilterSkillsAndFacts(context.Background(), filterFn, "where is the title block", nil, nil)
	if result.SkillID != nil {
		t.Fatalf("expected nil skill_id on filter error")
	}
	if len(result.FactIDs) != 0 {
		t.Fatalf("expected empty fact_ids on filter error")
	}
}

func TestResolveFixedSkillNotFound(t *testing.T) {
	root := t.TempDir()
	loader := &FilesystemLoader{SkillsPath: root}
	store := &Store{Loader: loader}

	_, err := ResolveFixedSkill(context.Background(), store, "does-not-exist")
	if err == nil {
		t.Fatalf("expected ErrSkillNotFound")
	}
	var notFound *ErrSkillNotFound
	if !isSkillNotFound(err, &notFound) {
		t.Fatalf("expected *ErrSkillNotFound, got %T", err)
	}
}

func isSkillNotFound(err error, target **ErrSkillNotFound) bool {
	e, ok := err.(*ErrSkillNotFound)
	if ok {
		*target = e
	}
	return ok
}

func TestResolveToolNamesFallback(t *testing.T) {
	registryHas := func(name string) bool { return name == "database_operation" || name == "search" }
	defaults := []string{"database_operation", "search"}

	got := ResolveToolNames([]string{"get_renderable_bounds"}, registryHas, defaults)
	if len(got) != 2 || got[0] != "database_operation" {
		t.Fatalf("expected fallback to defaults for unknown tool, got %v", got)
	}

	got = ResolveToolNames([]string{"database_operation"}, registryHas, defaults)
	if len(got) != 1 || got[0] != "database_operation" {
		t.Fatalf("expected registered tool set to pass through, got %v", got)
	}

	got = ResolveToolNames(nil, registryHas, defaults)
	if len(got) != 2 {
		t.Fatalf("expected defaults when skill declares no tools, got %v", got)
	}
}
