package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fieldstonelabs/cadagent/internal/config"
)

func TestLoaderConfigFromConfig(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		cfg := LoaderConfigFromConfig(nil)
		if cfg.ConventionsFile != "CONVENTIONS.md" {
			t.Errorf("ConventionsFile = %q, want %q", cfg.ConventionsFile, "CONVENTIONS.md")
		}
		if cfg.ReviewerFile != "REVIEWER.md" {
			t.Errorf("ReviewerFile = %q, want %q", cfg.ReviewerFile, "REVIEWER.md")
		}
	})

	t.Run("overrides from config", func(t *testing.T) {
		appCfg := &config.Config{
			Workspace: config.WorkspaceConfig{
				Path:            "/custom/path",
				ConventionsFile: "custom_conventions.md",
				ProjectFile:     "custom_project.md",
			},
		}
		cfg := LoaderConfigFromConfig(appCfg)
		if cfg.Root != "/custom/path" {
			t.Errorf("Root = %q, want %q", cfg.Root, "/custom/path")
		}
		if cfg.ConventionsFile != "custom_conventions.md" {
			t.Errorf("ConventionsFile = %q, want %q", cfg.ConventionsFile, "custom_conventions.md")
		}
		if cfg.ProjectFile != "custom_project.md" {
			t.Errorf("ProjectFile = %q, want %q", cfg.ProjectFile, "custom_project.md")
		}
		// Unchanged defaults
		if cfg.ReviewerFile != "REVIEWER.md" {
			t.Errorf("ReviewerFile = %q, want %q", cfg.ReviewerFile, "REVIEWER.md")
		}
	})
}

func TestLoadWorkspace(t *testing.T) {
	tmpDir := t.TempDir()

	conventionsContent := "# CONVENTIONS.md\n\nBe precise and cite layer names."
	reviewerContent := "# REVIEWER.md\n\n- Name: Alice\n- Preferred address: Ali\n- Role: Structural reviewer"
	projectContent := "# PROJECT.md\n\n- Name: Tower B Shell\n- Discipline: Structural\n- Scale: 1:100\n- Revision: C"

	os.WriteFile(filepath.Join(tmpDir, "CONVENTIONS.md"), []byte(conventionsContent), 0644)
	os.WriteFile(filepath.Join(tmpDir, "REVIEWER.md"), []byte(reviewerContent), 0644)
	os.WriteFile(filepath.Join(tmpDir, "PROJECT.md"), []byte(projectContent), 0644)

	ctx, err := LoadWorkspace(LoaderConfig{Root: tmpDir})
	if err != nil {
		t.Fatalf("LoadWorkspace error: %v", err)
	}

	if ctx.ConventionsContent != conventionsContent {
		t.Errorf("ConventionsContent = %q, want %q", ctx.ConventionsContent, conventionsContent)
	}

	if ctx.Project == nil {
		t.Fatal("Project is nil")
	}
	if ctx.Project.Name != "Tower B Shell" {
		t.Errorf("Project.Name = %q, want %q", ctx.Project.Name, "Tower B Shell")
	}
	if ctx.Project.Discipline != "Structural" {
		t.Errorf("Project.Discipline = %q, want %q", ctx.Project.Discipline, "Structural")
	}
	if ctx.Project.Revision != "C" {
		t.Errorf("Project.Revision = %q, want %q", ctx.Project.Revision, "C")
	}

	if ctx.Reviewer == nil {
		t.Fatal("Reviewer is nil")
	}
	if ctx.Reviewer.Name != "Alice" {
		t.Errorf("Reviewer.Name = %q, want %q", ctx.Reviewer.Name, "Alice")
	}
	if ctx.Reviewer.PreferredAddress != "Ali" {
		t.Errorf("Reviewer.PreferredAddress = %q, want %q", ctx.Reviewer.PreferredAddress, "Ali")
	}
	if ctx.Reviewer.Role != "Structural reviewer" {
		t.Errorf("Reviewer.Role = %q, want %q", ctx.Reviewer.Role, "Structural reviewer")
	}
}

func TestLoadWorkspace_MissingFiles(t *testing.T) {
	tmpDir := t.TempDir()

	ctx, err := LoadWorkspace(LoaderConfig{Root: tmpDir})
	if err != nil {
		t.Fatalf("LoadWorkspace error: %v", err)
	}

	if ctx.ConventionsContent != "" {
		t.Errorf("ConventionsContent should be empty for missing file")
	}
	if ctx.Project != nil {
		t.Errorf("Project should be nil for missing file")
	}
}

func TestParseProjectMeta(t *testing.T) {
	content := `# PROJECT.md - Drawing Set Metadata

- Name: North Annex
- Discipline: Mechanical
- Scale: 1:50
- Revision: A
`
	p := parseProjectMeta(content)

	if p.Name != "North Annex" {
		t.Errorf("Name = %q, want %q", p.Name, "North Annex")
	}
	if p.Discipline != "Mechanical" {
		t.Errorf("Discipline = %q, want %q", p.Discipline, "Mechanical")
	}
	if p.Scale != "1:50" {
		t.Errorf("Scale = %q, want %q", p.Scale, "1:50")
	}
	if p.Revision != "A" {
		t.Errorf("Revision = %q, want %q", p.Revision, "A")
	}
}

func TestParseReviewerProfile(t *testing.T) {
	content := `# REVIEWER.md - Reviewer Contact

- Name: Bob Smith
- Preferred address: Bob
- Role (optional): Site engineer
- Notes: Flags clearance issues
`
	r := parseReviewerProfile(content)

	if r.Name != "Bob Smith" {
		t.Errorf("Name = %q, want %q", r.Name, "Bob Smith")
	}
	if r.PreferredAddress != "Bob" {
		t.Errorf("PreferredAddress = %q, want %q", r.PreferredAddress, "Bob")
	}
	if r.Role != "Site engineer" {
		t.Errorf("Role = %q, want %q", r.Role, "Site engineer")
	}
	if r.Notes != "Flags clearance issues" {
		t.Errorf("Notes = %q, want %q", r.Notes, "Flags clearance issues")
	}
}

func TestParseKeyValue(t *testing.T) {
	tests := []struct {
		input       string
		expectedKey string
		expectedVal string
	}{
		{"- Name: Alice", "Name", "Alice"},
		{"Name: Bob", "Name", "Bob"},
		{"  - Key: Value  ", "Key", "Value"},
		{"No colon here", "", ""},
		{"Empty:", "Empty", ""},
		{": NoKey", "", "NoKey"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			key, val := parseKeyValue(tt.input)
			if key != tt.expectedKey {
				t.Errorf("key = %q, want %q", key, tt.expectedKey)
			}
			if val != tt.expectedVal {
				t.Errorf("val = %q, want %q", val, tt.expectedVal)
			}
		})
	}
}

func TestWorkspaceContext_SystemPromptContext(t *testing.T) {
	t.Run("with all data", func(t *testing.T) {
		ctx := &WorkspaceContext{
			ConventionsContent: "Cite layer names.",
			Project: &ProjectMeta{
				Name:       "Tower B Shell",
				Discipline: "Structural",
				Scale:      "1:100",
				Revision:   "C",
			},
			Reviewer: &ReviewerProfile{
				Name:             "Alice",
				PreferredAddress: "Ali",
				Role:             "Structural reviewer",
			},
		}

		prompt := ctx.SystemPromptContext()

		if !strings.Contains(prompt, "Cite layer names") {
			t.Error("should contain conventions content")
		}
		if !strings.Contains(prompt, "This drawing set is Tower B Shell") {
			t.Error("should contain project name")
		}
		if !strings.Contains(prompt, "Discipline: Structural") {
			t.Error("should contain discipline")
		}
		if !strings.Contains(prompt, "reporting to Alice") {
			t.Error("should contain reviewer name")
		}
		if !strings.Contains(prompt, "address them as Ali") {
			t.Error("should contain preferred address")
		}
		if !strings.Contains(prompt, "role is Structural reviewer") {
			t.Error("should contain role")
		}
	})

	t.Run("empty context", func(t *testing.T) {
		ctx := &WorkspaceContext{}
		prompt := ctx.SystemPromptContext()
		if prompt != "" {
			t.Errorf("expected empty prompt, got %q", prompt)
		}
	})

	t.Run("reviewer without preferred address uses name", func(t *testing.T) {
		ctx := &WorkspaceContext{
			Reviewer: &ReviewerProfile{Name: "Alice"},
		}
		prompt := ctx.SystemPromptContext()
		if !strings.Contains(prompt, "address them as Alice") {
			t.Errorf("should use name as address, got %q", prompt)
		}
	})
}

func TestLoadConventions(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# CONVENTIONS.md\nBe precise."
	os.WriteFile(filepath.Join(tmpDir, "CONVENTIONS.md"), []byte(content), 0644)

	conventions, err := LoadConventions(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadConventions error: %v", err)
	}
	if conventions != content {
		t.Errorf("conventions = %q, want %q", conventions, content)
	}
}

func TestLoadProject(t *testing.T) {
	tmpDir := t.TempDir()
	content := "- Name: Annex\n- Scale: 1:50"
	os.WriteFile(filepath.Join(tmpDir, "PROJECT.md"), []byte(content), 0644)

	p, err := LoadProject(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadProject error: %v", err)
	}
	if p.Name != "Annex" {
		t.Errorf("Name = %q, want %q", p.Name, "Annex")
	}
	if p.Scale != "1:50" {
		t.Errorf("Scale = %q, want %q", p.Scale, "1:50")
	}
}

func TestLoadReviewer(t *testing.T) {
	tmpDir := t.TempDir()
	content := "- Name: Reviewer\n- Role: Engineer"
	os.WriteFile(filepath.Join(tmpDir, "REVIEWER.md"), []byte(content), 0644)

	r, err := LoadReviewer(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadReviewer error: %v", err)
	}
	if r.Name != "Reviewer" {
		t.Errorf("Name = %q, want %q", r.Name, "Reviewer")
	}
	if r.Role != "Engineer" {
		t.Errorf("Role = %q, want %q", r.Role, "Engineer")
	}
}

func TestLoadMemory(t *testing.T) {
	tmpDir := t.TempDir()
	content := "# Memory\n\nRemember this."
	os.WriteFile(filepath.Join(tmpDir, "MEMORY.md"), []byte(content), 0644)

	mem, err := LoadMemory(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadMemory error: %v", err)
	}
	if mem != content {
		t.Errorf("memory = %q, want %q", mem, content)
	}
}
