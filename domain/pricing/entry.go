// Package pricing resolves model prices and turns usage into cost.
// All functions are deterministic - same input always produces same output.
package pricing

import (
	"regexp"
	"sort"
	"strings"
)

// Mode classifies what a model produces.
type Mode string

const (
	ModeChat            Mode = "chat"
	ModeImageGeneration Mode = "image_generation"
	ModeVideoGeneration Mode = "video_generation"
	ModeAudioGeneration Mode = "audio_generation"
)

// Entry is the price sheet of one model (value type).
// Field names follow the LiteLLM price table so catalog files load as-is.
type Entry struct {
	InputCostPerToken         float64 `json:"input_cost_per_token,omitempty"`
	OutputCostPerToken        float64 `json:"output_cost_per_token,omitempty"`
	CacheCreationCostPerToken float64 `json:"cache_creation_input_token_cost,omitempty"`
	CacheReadCostPerToken     float64 `json:"cache_read_input_token_cost,omitempty"`

	Mode     Mode   `json:"mode,omitempty"`
	Provider string `json:"litellm_provider,omitempty"`

	InputCostPerImage       float64 `json:"input_cost_per_image,omitempty"`
	OutputCostPerImage      float64 `json:"output_cost_per_image,omitempty"`
	OutputCostPerImageToken float64 `json:"output_cost_per_image_token,omitempty"`
	InputCostPerPixel       float64 `json:"input_cost_per_pixel,omitempty"`
	OutputCostPerPixel      float64 `json:"output_cost_per_pixel,omitempty"`
	OutputCostPerSecond     float64 `json:"output_cost_per_second,omitempty"`
}

// IsImage reports whether the entry prices an image generation model.
func (e Entry) IsImage() bool { return e.Mode == ModeImageGeneration }

// IsVideo reports whether the entry prices a video generation model.
func (e Entry) IsVideo() bool { return e.Mode == ModeVideoGeneration }

// Table is an immutable model -> Entry catalog.
type Table struct {
	entries map[string]Entry
	keys    []string // sorted, for deterministic fuzzy matching
}

// NewTable builds a table from a model -> entry map. The map is copied.
func NewTable(entries map[string]Entry) *Table {
	t := &Table{
		entries: make(map[string]Entry, len(entries)),
		keys:    make([]string, 0, len(entries)),
	}
	for k, v := range entries {
		t.entries[k] = v
		t.keys = append(t.keys, k)
	}
	sort.Strings(t.keys)
	return t
}

// Len returns the number of models in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Models returns the model ids in sorted order.
func (t *Table) Models() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// MatchKind says how a model id was resolved to a table entry.
type MatchKind string

const (
	MatchNone    MatchKind = ""
	MatchExact   MatchKind = "exact"
	MatchAlias   MatchKind = "alias"
	MatchFuzzy   MatchKind = "fuzzy"
	MatchBedrock MatchKind = "bedrock"
)

// Match is the outcome of Resolve (value type).
type Match struct {
	Entry Entry
	Key   string // table key that matched
	Kind  MatchKind
}

// Found reports whether a price entry was resolved.
func (m Match) Found() bool { return m.Kind != MatchNone }

var (
	regionPrefix    = regexp.MustCompile(`^(us|eu|apac)\.`)
	dateSuffix      = regexp.MustCompile(`[-@]\d{8}$`)
	bedrockRevision = regexp.MustCompile(`-v\d+(:\d+)?$`)
)

// Resolve finds the price entry for a model id.
// This is a PURE function.
//
// Order: exact match; known aliases (gpt-5-codex, Bedrock region prefix,
// long-context tag, date and revision suffixes); fuzzy containment on
// normalized ids; Bedrock core-model match. A miss returns a zero Match.
func (t *Table) Resolve(model string) Match {
	if t == nil || model == "" || len(t.entries) == 0 {
		return Match{}
	}

	if e, ok := t.entries[model]; ok {
		return Match{Entry: e, Key: model, Kind: MatchExact}
	}

	for _, alias := range aliases(model) {
		if e, ok := t.entries[alias]; ok {
			return Match{Entry: e, Key: alias, Kind: MatchAlias}
		}
	}

	if key, ok := t.fuzzy(model); ok {
		return Match{Entry: t.entries[key], Key: key, Kind: MatchFuzzy}
	}

	if strings.Contains(model, "anthropic.claude") {
		core := strings.Replace(regionPrefix.ReplaceAllString(model, ""), "anthropic.", "", 1)
		for _, key := range t.keys {
			if strings.Contains(key, core) || strings.Contains(strings.Replace(key, "anthropic.", "", 1), core) {
				return Match{Entry: t.entries[key], Key: key, Kind: MatchBedrock}
			}
		}
	}

	return Match{}
}

// aliases lists the fallback ids tried after an exact miss, in order.
func aliases(model string) []string {
	var out []string
	if model == "gpt-5-codex" {
		out = append(out, "gpt-5")
	}
	if strings.Contains(model, ".anthropic.") || strings.Contains(model, ".claude") {
		if stripped := regionPrefix.ReplaceAllString(model, ""); stripped != model {
			out = append(out, stripped)
		}
	}

	base := strings.TrimSuffix(model, LongContextTag)
	if base != model {
		out = append(out, base)
	}
	if noRev := bedrockRevision.ReplaceAllString(base, ""); noRev != base {
		out = append(out, noRev)
		base = noRev
	}
	if noDate := dateSuffix.ReplaceAllString(base, ""); noDate != base {
		out = append(out, noDate)
	}
	return out
}

// fuzzy matches when either normalized id contains the other.
// The longest matching key wins so results do not depend on map order.
func (t *Table) fuzzy(model string) (string, bool) {
	norm := normalize(model)
	if norm == "" {
		return "", false
	}
	best := ""
	for _, key := range t.keys {
		nk := normalize(key)
		if nk == "" {
			continue
		}
		if strings.Contains(nk, norm) || strings.Contains(norm, nk) {
			if len(key) > len(best) {
				best = key
			}
		}
	}
	return best, best != ""
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, "_", "")
}
