package account

import (
	"sort"
	"strings"
)

// claudeFamilies are the tier keywords every Claude model id carries.
var claudeFamilies = []string{"haiku", "sonnet", "opus"}

// IsClaudeModel reports whether a model id names a Claude tier.
// This is a PURE function.
func IsClaudeModel(model string) bool {
	lower := strings.ToLower(model)
	for _, f := range claudeFamilies {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// CatalogEntry lists the models a provider family advertises.
type CatalogEntry struct {
	Provider string
	Models   []string
}

// Catalog maps platforms to advertised models (value type).
type Catalog map[Platform]CatalogEntry

// DefaultCatalog returns the built-in model lists.
func DefaultCatalog() Catalog {
	claude := CatalogEntry{
		Provider: "anthropic",
		Models: []string{
			"claude-opus-4-5-20251101",
			"claude-haiku-4-5-20251001",
			"claude-sonnet-4-5-20250929",
			"claude-opus-4-1-20250805",
			"claude-sonnet-4-20250514",
			"claude-opus-4-20250514",
			"claude-3-7-sonnet-20250219",
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
			"claude-3-opus-20240229",
			"claude-3-haiku-20240307",
		},
	}
	openai := CatalogEntry{
		Provider: "openai",
		Models: []string{
			"gpt-5.1-2025-11-13",
			"gpt-5.1-codex-mini",
			"gpt-5.1-codex",
			"gpt-5.1-codex-max",
			"gpt-5-2025-08-07",
			"gpt-5-codex",
		},
	}
	return Catalog{
		PlatformClaude:        claude,
		PlatformClaudeConsole: claude,
		PlatformBedrock:       claude,
		PlatformOpenAI:        openai,
		PlatformAzureOpenAI:   openai,
		PlatformGemini: {
			Provider: "google",
			Models: []string{
				"gemini-2.5-pro",
				"gemini-3-pro-preview",
				"gemini-3-pro-image-preview",
				"gemini-3-flash-preview",
				"gemini-2.5-flash",
			},
		},
	}
}

// Supports reports whether a platform can serve model.
// Claude platforms accept any id carrying a tier keyword; other
// platforms need a listed id or a family prefix.
// This is a PURE function.
func (c Catalog) Supports(p Platform, model string) bool {
	switch p {
	case PlatformClaude, PlatformClaudeConsole, PlatformBedrock:
		return IsClaudeModel(model)
	}
	if entry, ok := c[p]; ok {
		for _, m := range entry.Models {
			if m == model {
				return true
			}
		}
	}
	switch p {
	case PlatformOpenAI, PlatformAzureOpenAI:
		return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") ||
			strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") ||
			strings.HasPrefix(model, "codex")
	case PlatformGemini:
		return strings.HasPrefix(model, "gemini-")
	}
	return false
}

// Model is one advertised model in the OpenAI list format.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// Models lists every advertised model once, sorted by provider then id.
// This is a PURE function.
func (c Catalog) Models(created int64) []Model {
	seen := make(map[string]bool)
	var out []Model
	for _, entry := range c {
		for _, id := range entry.Models {
			if seen[entry.Provider+"/"+id] {
				continue
			}
			seen[entry.Provider+"/"+id] = true
			out = append(out, Model{ID: id, Object: "model", Created: created, OwnedBy: entry.Provider})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnedBy != out[j].OwnedBy {
			return out[i].OwnedBy < out[j].OwnedBy
		}
		return out[i].ID < out[j].ID
	})
	return out
}
