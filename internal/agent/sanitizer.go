package agent

import (
	"encoding/json"
)

// DefaultMaxToolResultChars is the serialized-size budget a sanitized tool
// envelope must fit within (spec §4.7).
const DefaultMaxToolResultChars = 40000

// compactEnvelopeKeys is the whitelist of structural "data" keys retained
// when an envelope must be degraded to its compact form.
var compactEnvelopeKeys = []string{
	"image_path", "thumbnail", "region_info", "entity_summary",
	"key_content", "bounds", "filename", "entity_count", "total_count",
	"layer_count", "image_base64_omitted", "image_base64_chars",
}

// PayloadSanitizer shrinks a tool result envelope until its JSON
// serialization fits within a character budget, following a fixed
// degradation ladder: strip inline images, truncate long text lists,
// then fall back to a whitelist of structural keys, then to a minimal
// envelope carrying only success/error/image_path/note.
type PayloadSanitizer struct {
	MaxChars int
}

// NewPayloadSanitizer returns a sanitizer using DefaultMaxToolResultChars.
func NewPayloadSanitizer() PayloadSanitizer {
	return PayloadSanitizer{MaxChars: DefaultMaxToolResultChars}
}

// Sanitize applies the algorithm of spec §4.7 to a raw envelope JSON
// string (already normalized via NormalizeEnvelope) and returns a
// serialized envelope guaranteed to fit within the budget, short of the
// pathological case where even the minimal envelope overflows.
func (s PayloadSanitizer) Sanitize(toolName string, envelopeJSON string) string {
	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxToolResultChars
	}

	var env map[string]any
	if err := json.Unmarshal([]byte(envelopeJSON), &env); err != nil {
		return envelopeJSON
	}

	originalSuccess, _ := env["success"].(bool)
	originalError, hasError := env["error"]

	data, hasData := env["data"].(map[string]any)
	if hasData {
		stripInlineImage(data)
		truncateTexts(data)
	}

	if b, err := json.Marshal(env); err == nil && len(b) <= maxChars {
		return string(b)
	}

	compact := map[string]any{
		"success":          env["success"],
		"_truncated":       true,
		"_original_chars":  len(envelopeJSON),
	}
	if hasError {
		compact["error"] = originalError
	}
	if hasData {
		compactData := map[string]any{}
		for _, k := range compactEnvelopeKeys {
			if v, ok := data[k]; ok {
				compactData[k] = v
			}
		}
		compact["data"] = compactData
	}

	if b, err := json.Marshal(compact); err == nil && len(b) <= maxChars {
		return string(b)
	}

	minimal := map[string]any{"success": originalSuccess}
	if hasError {
		minimal["error"] = originalError
	}
	note := map[string]any{"note": "result omitted: exceeded " + itoa(maxChars) + " character budget"}
	if hasData {
		if ip, ok := data["image_path"]; ok {
			note["image_path"] = ip
		}
	}
	minimal["data"] = note

	if b, err := json.Marshal(minimal); err == nil {
		return string(b)
	}

	fallback := map[string]any{"success": originalSuccess}
	if hasError {
		fallback["error"] = originalError
	} else {
		fallback["error"] = "serialization failed"
	}
	b, _ := json.Marshal(fallback)
	return string(b)
}

// stripInlineImage removes a non-empty base64 image payload, replacing it
// with the omission markers the spec requires so downstream consumers
// know one existed without paying for its bytes.
func stripInlineImage(data map[string]any) {
	raw, ok := data["image_base64"].(string)
	if !ok || raw == "" {
		return
	}
	delete(data, "image_base64")
	data["image_base64_omitted"] = true
	data["image_base64_chars"] = len(raw)
}

// truncateTexts caps data.key_content.texts at 20 entries, recording how
// many were dropped.
func truncateTexts(data map[string]any) {
	kc, ok := data["key_content"].(map[string]any)
	if !ok {
		return
	}
	texts, ok := kc["texts"].([]any)
	if !ok || len(texts) <= 20 {
		return
	}
	dropped := len(texts) - 20
	kc["texts"] = texts[:20]
	kc["texts_truncated"] = dropped
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
