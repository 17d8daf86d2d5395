// Package skills loads filesystem-defined skills -- directories under a
// skills root, each carrying a config.json (tool set, model hints) and a
// skill.md prompt template -- and resolves which one, if any, applies to
// a turn.
package skills

// SkillsConfig is the top-level skills configuration.
type SkillsConfig struct {
	// Dir is the skills root directory; each immediate subdirectory is a
	// candidate skill.
	Dir string `json:"dir,omitempty" yaml:"dir"`

	// Watch enables fsnotify-based reload when config.json/skill.md
	// files change under Dir.
	Watch bool `json:"watch,omitempty" yaml:"watch"`

	// WatchDebounceMs is the debounce delay for the watcher.
	WatchDebounceMs int `json:"watchDebounceMs,omitempty" yaml:"watchDebounceMs"`

	// FixedSkillID, if set, bypasses retrieval and the LLM filter
	// entirely: the named skill is loaded directly for every turn.
	FixedSkillID string `json:"fixedSkillId,omitempty" yaml:"fixedSkillId"`

	// RetrievalTopK bounds how many skills retrieve_skills ranks into
	// candidates for the LLM filter. Defaults to 3 when unset.
	RetrievalTopK int `json:"retrievalTopK,omitempty" yaml:"retrievalTopK"`
}
