package callback

import (
	"strings"
	"testing"

	"github.com/pitabwire/quill/model"
)

func TestEncodeDecode_knownActions(t *testing.T) {
	tests := []struct {
		name    string
		action  model.Action
		payload string
	}{
		{"category", model.Action{Kind: model.ActionCategoryChoice, Slug: "news"}, "category-choice:news"},
		{"tag", model.Action{Kind: model.ActionTagToggle, Slug: "go"}, "tag-toggle:go"},
		{"tags done", model.Action{Kind: model.ActionTagsDone}, "tag-toggle:#done"},
		{"daily accept", model.Action{Kind: model.ActionScheduledDecision, Decision: model.DecisionAccept, ID: 12}, "scheduled-post-decision:accept:12"},
		{"draft regenerate", model.Action{Kind: model.ActionAIDraftDecision, Decision: model.DecisionRegenerate, ID: 7}, "ai-draft-decision:regenerate:7"},
		{"settings", model.Action{Kind: model.ActionSettings, Setting: model.SettingsTrends}, "ai-settings-action:trends"},
		{"trend add", model.Action{Kind: model.ActionTrend, Trend: model.TrendAdd}, "ai-trend-action:add"},
		{"trend remove", model.Action{Kind: model.ActionTrend, Trend: model.TrendRemove, Index: 3, Check: "9e1c2a04"}, "ai-trend-action:remove:3:9e1c2a04"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.action)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			if got != tt.payload {
				t.Errorf("Encode() = %q, want %q", got, tt.payload)
			}

			decoded, err := Decode(tt.payload)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			decoded.Raw = ""
			if decoded != tt.action {
				t.Errorf("Decode() = %+v, want %+v", decoded, tt.action)
			}
		})
	}
}

func TestDecode_rejectsMalformed(t *testing.T) {
	for _, payload := range []string{
		"",
		"cat:news",
		"category-choice:",
		"tag-toggle:",
		"scheduled-post-decision:accept",
		"scheduled-post-decision:accept:abc",
		"scheduled-post-decision:regenerate:4",
		"ai-draft-decision:maybe:4",
		"ai-draft-decision:accept:-1",
		"ai-settings-action:delete",
		"ai-trend-action:remove",
		"ai-trend-action:remove:-2",
		"ai-trend-action:remove:2",
		"ai-trend-action:remove:2:",
		"ai-trend-action:shuffle",
	} {
		a, err := Decode(payload)
		if err == nil {
			t.Errorf("Decode(%q) = %+v, want error", payload, a)
			continue
		}
		if !model.HasCode(err, model.ErrInvalidCallback) {
			t.Errorf("Decode(%q) error = %v, want INVALID_CALLBACK", payload, err)
		}
		if a.Kind != model.ActionUnknown || a.Raw != payload {
			t.Errorf("Decode(%q) action = %+v", payload, a)
		}
	}
}

func TestDecode_slugMayContainColon(t *testing.T) {
	a, err := Decode("tag-toggle:lang:go")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if a.Slug != "lang:go" {
		t.Errorf("Slug = %q, want lang:go", a.Slug)
	}
}

func TestEncode_rejectsInvalid(t *testing.T) {
	for _, a := range []model.Action{
		{Kind: model.ActionUnknown},
		{Kind: model.ActionCategoryChoice},
		{Kind: model.ActionTagToggle, Slug: "#done"},
		{Kind: model.ActionScheduledDecision, Decision: model.DecisionRegenerate, ID: 1},
		{Kind: model.ActionSettings, Setting: "nope"},
		{Kind: model.ActionTrend, Trend: model.TrendRemove, Index: 1},
		{Kind: model.ActionTagToggle, Slug: strings.Repeat("x", MaxPayloadBytes)},
	} {
		if got, err := Encode(a); err == nil {
			t.Errorf("Encode(%+v) = %q, want error", a, got)
		}
	}
}
