package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldstonelabs/cadagent/internal/config"
)

// BootstrapFile represents a file to seed in a workspace.
type BootstrapFile struct {
	Name    string
	Content string
}

// BootstrapResult captures the files created or skipped.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// DefaultBootstrapFiles returns the default bootstrap file set seeded into
// a fresh CAD workspace directory.
func DefaultBootstrapFiles() []BootstrapFile {
	return []BootstrapFile{
		{
			Name: "AGENTS.md",
			Content: "# AGENTS.md - Workspace Instructions\n\n" +
				"This directory is the agent's working area for the current drawing set:\n" +
				"rendered region previews under rendered/, and the turn-by-turn trace in\n" +
				"work_log_detailed.md.\n\n" +
				"## Workflow\n" +
				"- Prefer get_renderable_bounds before inspect_region to avoid scanning\n" +
				"  outlier geometry (title blocks, stray construction lines).\n" +
				"- Cite layer names and coordinates when reporting findings.\n" +
				"- Keep durable facts about this project in MEMORY.md.\n",
		},
		{
			Name: "CONVENTIONS.md",
			Content: "# CONVENTIONS.md - Reporting Conventions\n\n" +
				"- Tone: precise, concise, cite layer/coordinate evidence.\n" +
				"- State uncertainty explicitly rather than guessing dimensions.\n" +
				"- Summaries lead with the answer, then supporting detail.\n",
		},
		{
			Name: "REVIEWER.md",
			Content: "# REVIEWER.md - Reviewer Contact\n\n" +
				"- Name:\n" +
				"- Preferred address:\n" +
				"- Role (optional):\n" +
				"- Notes:\n",
		},
		{
			Name: "PROJECT.md",
			Content: "# PROJECT.md - Drawing Set Metadata\n\n" +
				"- Name:\n" +
				"- Discipline:\n" +
				"- Scale:\n" +
				"- Revision:\n",
		},
		{
			Name: "TOOLS.md",
			Content: "# TOOLS.md - Tool Notes (editable)\n\n" +
				"Add notes about layer naming conventions or drawing quirks here.\n",
		},
		{
			Name: "MEMORY.md",
			Content: "# MEMORY.md - Durable Facts\n\n" +
				"Capture facts about this drawing set that should persist across turns.\n",
		},
	}
}

// BootstrapFilesForConfig maps workspace config file names to bootstrap content.
func BootstrapFilesForConfig(cfg *config.Config) []BootstrapFile {
	defaults := DefaultBootstrapFiles()
	if cfg == nil {
		return defaults
	}
	nameOverrides := map[string]string{}
	workspace := cfg.Workspace
	if workspace.AgentsFile != "" {
		nameOverrides["AGENTS.md"] = workspace.AgentsFile
	}
	if workspace.ConventionsFile != "" {
		nameOverrides["CONVENTIONS.md"] = workspace.ConventionsFile
	}
	if workspace.ReviewerFile != "" {
		nameOverrides["REVIEWER.md"] = workspace.ReviewerFile
	}
	if workspace.ProjectFile != "" {
		nameOverrides["PROJECT.md"] = workspace.ProjectFile
	}
	if workspace.ToolsFile != "" {
		nameOverrides["TOOLS.md"] = workspace.ToolsFile
	}
	if workspace.MemoryFile != "" {
		nameOverrides["MEMORY.md"] = workspace.MemoryFile
	}
	files := make([]BootstrapFile, 0, len(defaults))
	for _, entry := range defaults {
		name := entry.Name
		if override, ok := nameOverrides[entry.Name]; ok {
			name = override
		}
		files = append(files, BootstrapFile{Name: name, Content: entry.Content})
	}
	return files
}

// EnsureWorkspaceFiles creates missing files in the workspace root.
func EnsureWorkspaceFiles(root string, files []BootstrapFile, overwrite bool) (BootstrapResult, error) {
	result := BootstrapResult{}
	base := strings.TrimSpace(root)
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return result, fmt.Errorf("create workspace dir: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			continue
		}
		path := filepath.Join(base, name)
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				result.Skipped = append(result.Skipped, path)
				continue
			} else if !os.IsNotExist(err) {
				return result, fmt.Errorf("stat %s: %w", path, err)
			}
		}
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			return result, fmt.Errorf("write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}

	return result, nil
}
