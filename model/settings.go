package model

import (
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
)

// AISettings is the durable document driving scheduled AI generation.
type AISettings struct {
	Instructions string   `json:"instructions"`
	Trends       []string `json:"trends"`
	Topics       []string `json:"topics"`
}

// DefaultAISettings returns the built-in settings used when nothing valid
// is stored.
func DefaultAISettings() AISettings {
	return AISettings{
		Instructions: "Write a concise, factual article for a general audience. " +
			"Use short paragraphs and Markdown headings. Avoid speculation.",
		Trends: []string{},
		Topics: []string{
			"technology",
			"science",
			"education",
			"health",
			"culture",
		},
	}
}

// Normalize trims entries, drops empty ones and fills missing fields from
// the defaults.
func (s AISettings) Normalize() AISettings {
	def := DefaultAISettings()
	out := AISettings{
		Instructions: strings.TrimSpace(s.Instructions),
		Trends:       compact(s.Trends),
		Topics:       compact(s.Topics),
	}
	if out.Instructions == "" {
		out.Instructions = def.Instructions
	}
	if len(out.Topics) == 0 {
		out.Topics = def.Topics
	}
	return out
}

// GenerationInstructions returns the instructions with the current trends
// appended as hints.
func (s AISettings) GenerationInstructions() string {
	if len(s.Trends) == 0 {
		return s.Instructions
	}
	return s.Instructions + "\n\nCurrent trends: " + strings.Join(s.Trends, "; ")
}

// Clone deep-copies the settings.
func (s AISettings) Clone() AISettings {
	s.Trends = slices.Clone(s.Trends)
	s.Topics = slices.Clone(s.Topics)
	return s
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// TrendFingerprint is a short content identity for a trend, carried in
// remove buttons so a shifted list never removes the wrong entry.
func TrendFingerprint(trend string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(trend))
	return fmt.Sprintf("%08x", h.Sum32())
}
