package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldstonelabs/cadagent/internal/config"
)

// WorkspaceContext holds all loaded workspace documents for runtime use.
type WorkspaceContext struct {
	// Raw file contents
	AgentsContent      string
	ConventionsContent string
	ReviewerContent    string
	ProjectContent     string
	ToolsContent       string
	MemoryContent      string

	// Parsed data
	Project  *ProjectMeta
	Reviewer *ReviewerProfile
}

// ProjectMeta holds the drawing-set metadata parsed from PROJECT.md.
type ProjectMeta struct {
	Name       string
	Discipline string
	Scale      string
	Revision   string
}

// ReviewerProfile holds the contact profile parsed from REVIEWER.md --
// who requested the review and how they'd like to be addressed.
type ReviewerProfile struct {
	Name             string
	PreferredAddress string
	Role             string
	Notes            string
}

// LoaderConfig configures the workspace loader.
type LoaderConfig struct {
	Root            string
	AgentsFile      string
	ConventionsFile string
	ReviewerFile    string
	ProjectFile     string
	ToolsFile       string
	MemoryFile      string
}

// LoaderConfigFromConfig creates a LoaderConfig from the app config.
func LoaderConfigFromConfig(cfg *config.Config) LoaderConfig {
	lc := LoaderConfig{
		AgentsFile:      "AGENTS.md",
		ConventionsFile: "CONVENTIONS.md",
		ReviewerFile:    "REVIEWER.md",
		ProjectFile:     "PROJECT.md",
		ToolsFile:       "TOOLS.md",
		MemoryFile:      "MEMORY.md",
	}
	if cfg == nil {
		return lc
	}
	if cfg.Workspace.Path != "" {
		lc.Root = cfg.Workspace.Path
	}
	if cfg.Workspace.AgentsFile != "" {
		lc.AgentsFile = cfg.Workspace.AgentsFile
	}
	if cfg.Workspace.ConventionsFile != "" {
		lc.ConventionsFile = cfg.Workspace.ConventionsFile
	}
	if cfg.Workspace.ReviewerFile != "" {
		lc.ReviewerFile = cfg.Workspace.ReviewerFile
	}
	if cfg.Workspace.ProjectFile != "" {
		lc.ProjectFile = cfg.Workspace.ProjectFile
	}
	if cfg.Workspace.ToolsFile != "" {
		lc.ToolsFile = cfg.Workspace.ToolsFile
	}
	if cfg.Workspace.MemoryFile != "" {
		lc.MemoryFile = cfg.Workspace.MemoryFile
	}
	return lc
}

// LoadWorkspace loads all workspace documents and returns a WorkspaceContext.
func LoadWorkspace(cfg LoaderConfig) (*WorkspaceContext, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}

	agentsFile := cfg.AgentsFile
	if agentsFile == "" {
		agentsFile = "AGENTS.md"
	}
	conventionsFile := cfg.ConventionsFile
	if conventionsFile == "" {
		conventionsFile = "CONVENTIONS.md"
	}
	reviewerFile := cfg.ReviewerFile
	if reviewerFile == "" {
		reviewerFile = "REVIEWER.md"
	}
	projectFile := cfg.ProjectFile
	if projectFile == "" {
		projectFile = "PROJECT.md"
	}
	toolsFile := cfg.ToolsFile
	if toolsFile == "" {
		toolsFile = "TOOLS.md"
	}
	memoryFile := cfg.MemoryFile
	if memoryFile == "" {
		memoryFile = "MEMORY.md"
	}

	ctx := &WorkspaceContext{}
	loadOptional := func(name string) (string, error) {
		return readOptionalFile(filepath.Join(root, name))
	}

	var err error
	if ctx.AgentsContent, err = loadOptional(agentsFile); err != nil {
		return nil, err
	}
	if ctx.ConventionsContent, err = loadOptional(conventionsFile); err != nil {
		return nil, err
	}
	if ctx.ReviewerContent, err = loadOptional(reviewerFile); err != nil {
		return nil, err
	}
	if ctx.ProjectContent, err = loadOptional(projectFile); err != nil {
		return nil, err
	}
	if ctx.ToolsContent, err = loadOptional(toolsFile); err != nil {
		return nil, err
	}
	if ctx.MemoryContent, err = loadOptional(memoryFile); err != nil {
		return nil, err
	}

	if ctx.ProjectContent != "" {
		ctx.Project = parseProjectMeta(ctx.ProjectContent)
	}
	if ctx.ReviewerContent != "" {
		ctx.Reviewer = parseReviewerProfile(ctx.ReviewerContent)
	}

	return ctx, nil
}

// LoadConventions loads just the CONVENTIONS.md file content.
func LoadConventions(root, filename string) (string, error) {
	if filename == "" {
		filename = "CONVENTIONS.md"
	}
	return readFile(filepath.Join(root, filename))
}

// LoadReviewer loads and parses the REVIEWER.md file.
func LoadReviewer(root, filename string) (*ReviewerProfile, error) {
	if filename == "" {
		filename = "REVIEWER.md"
	}
	content, err := readFile(filepath.Join(root, filename))
	if err != nil {
		return nil, err
	}
	return parseReviewerProfile(content), nil
}

// LoadProject loads and parses the PROJECT.md file.
func LoadProject(root, filename string) (*ProjectMeta, error) {
	if filename == "" {
		filename = "PROJECT.md"
	}
	content, err := readFile(filepath.Join(root, filename))
	if err != nil {
		return nil, err
	}
	return parseProjectMeta(content), nil
}

// LoadMemory loads the MEMORY.md file content.
func LoadMemory(root, filename string) (string, error) {
	if filename == "" {
		filename = "MEMORY.md"
	}
	return readFile(filepath.Join(root, filename))
}

// SystemPromptContext renders the workspace documents into text meant to
// be prepended to a turn's system prompt: drafting conventions, the
// drawing set's identifying metadata, and who to address findings to.
func (w *WorkspaceContext) SystemPromptContext() string {
	var parts []string

	if w.ConventionsContent != "" {
		parts = append(parts, w.ConventionsContent)
	}

	if w.Project != nil && w.Project.Name != "" {
		parts = append(parts, fmt.Sprintf("This drawing set is %s.", w.Project.Name))
		if w.Project.Discipline != "" {
			parts = append(parts, fmt.Sprintf("Discipline: %s.", w.Project.Discipline))
		}
		if w.Project.Scale != "" {
			parts = append(parts, fmt.Sprintf("Drawing scale: %s.", w.Project.Scale))
		}
		if w.Project.Revision != "" {
			parts = append(parts, fmt.Sprintf("Revision: %s.", w.Project.Revision))
		}
	}

	if w.Reviewer != nil && w.Reviewer.Name != "" {
		addr := w.Reviewer.PreferredAddress
		if addr == "" {
			addr = w.Reviewer.Name
		}
		parts = append(parts, fmt.Sprintf("You are reporting to %s (address them as %s).", w.Reviewer.Name, addr))
		if w.Reviewer.Role != "" {
			parts = append(parts, fmt.Sprintf("Their role is %s.", w.Reviewer.Role))
		}
	}

	return strings.Join(parts, "\n")
}

// Helper functions

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readOptionalFile(path string) (string, error) {
	content, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return content, nil
}

// parseProjectMeta parses PROJECT.md format:
// - Name: value
// - Discipline: value
// etc.
func parseProjectMeta(content string) *ProjectMeta {
	p := &ProjectMeta{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if key, val := parseKeyValue(line); key != "" {
			switch strings.ToLower(key) {
			case "name":
				p.Name = val
			case "discipline":
				p.Discipline = val
			case "scale":
				p.Scale = val
			case "revision":
				p.Revision = val
			}
		}
	}
	return p
}

// parseReviewerProfile parses REVIEWER.md format:
// - Name: value
// - Preferred address: value
// etc.
func parseReviewerProfile(content string) *ReviewerProfile {
	r := &ReviewerProfile{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if key, val := parseKeyValue(line); key != "" {
			switch strings.ToLower(key) {
			case "name":
				r.Name = val
			case "preferred address":
				r.PreferredAddress = val
			case "role", "role (optional)":
				r.Role = val
			case "notes":
				r.Notes = val
			}
		}
	}
	return r
}

// parseKeyValue extracts key-value from lines like "- Key: Value" or "Key: Value"
func parseKeyValue(line string) (string, string) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "-")
	line = strings.TrimSpace(line)

	idx := strings.Index(line, ":")
	if idx == -1 {
		return "", ""
	}

	key := strings.TrimSpace(line[:idx])
	val := strings.TrimSpace(line[idx+1:])
	return key, val
}
