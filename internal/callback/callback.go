// Package callback converts inline button payloads to and from the closed
// set of actions the orchestrator routes on. Decoding happens once at the
// transport boundary.
package callback

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pitabwire/quill/model"
)

// MaxPayloadBytes is the transport limit for a button payload.
const MaxPayloadBytes = 64

const doneMarker = "#done"

// Encode renders an action as a button payload.
func Encode(a model.Action) (string, error) {
	var out string
	switch a.Kind {
	case model.ActionCategoryChoice:
		if a.Slug == "" {
			return "", fmt.Errorf("callback: category choice without slug")
		}
		out = join(a.Kind, a.Slug)
	case model.ActionTagToggle:
		if a.Slug == "" || a.Slug == doneMarker {
			return "", fmt.Errorf("callback: invalid tag slug %q", a.Slug)
		}
		out = join(model.ActionTagToggle, a.Slug)
	case model.ActionTagsDone:
		out = join(model.ActionTagToggle, doneMarker)
	case model.ActionScheduledDecision:
		if a.Decision != model.DecisionAccept && a.Decision != model.DecisionReject {
			return "", fmt.Errorf("callback: invalid scheduled decision %q", a.Decision)
		}
		out = join(a.Kind, string(a.Decision), strconv.FormatInt(a.ID, 10))
	case model.ActionAIDraftDecision:
		if !validDecision(a.Decision) {
			return "", fmt.Errorf("callback: invalid draft decision %q", a.Decision)
		}
		out = join(a.Kind, string(a.Decision), strconv.FormatInt(a.ID, 10))
	case model.ActionSettings:
		if !validSetting(a.Setting) {
			return "", fmt.Errorf("callback: invalid settings action %q", a.Setting)
		}
		out = join(a.Kind, string(a.Setting))
	case model.ActionTrend:
		switch a.Trend {
		case model.TrendAdd, model.TrendClear:
			out = join(a.Kind, string(a.Trend))
		case model.TrendRemove:
			if a.Check == "" {
				return "", fmt.Errorf("callback: trend removal without fingerprint")
			}
			out = join(a.Kind, string(a.Trend), strconv.Itoa(a.Index), a.Check)
		default:
			return "", fmt.Errorf("callback: invalid trend action %q", a.Trend)
		}
	default:
		return "", fmt.Errorf("callback: cannot encode action kind %q", a.Kind)
	}
	if len(out) > MaxPayloadBytes {
		return "", fmt.Errorf("callback: payload %q exceeds %d bytes", out, MaxPayloadBytes)
	}
	return out, nil
}

// Decode parses a button payload. Unknown namespaces and malformed
// arguments yield an INVALID_CALLBACK error carrying the raw payload.
func Decode(data string) (model.Action, error) {
	ns, rest, _ := strings.Cut(data, ":")
	a := model.Action{Kind: model.ActionKind(ns), Raw: data}

	switch a.Kind {
	case model.ActionCategoryChoice:
		if rest == "" {
			return invalid(data)
		}
		a.Slug = rest
	case model.ActionTagToggle:
		switch rest {
		case "":
			return invalid(data)
		case doneMarker:
			a.Kind = model.ActionTagsDone
		default:
			a.Slug = rest
		}
	case model.ActionScheduledDecision, model.ActionAIDraftDecision:
		decision, idText, ok := strings.Cut(rest, ":")
		if !ok {
			return invalid(data)
		}
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil || id <= 0 {
			return invalid(data)
		}
		a.Decision, a.ID = model.Decision(decision), id
		if !validDecision(a.Decision) {
			return invalid(data)
		}
		if a.Kind == model.ActionScheduledDecision && a.Decision == model.DecisionRegenerate {
			return invalid(data)
		}
	case model.ActionSettings:
		a.Setting = model.SettingsAction(rest)
		if !validSetting(a.Setting) {
			return invalid(data)
		}
	case model.ActionTrend:
		verb, arg, _ := strings.Cut(rest, ":")
		a.Trend = model.TrendAction(verb)
		switch a.Trend {
		case model.TrendAdd, model.TrendClear:
		case model.TrendRemove:
			idxText, check, ok := strings.Cut(arg, ":")
			idx, err := strconv.Atoi(idxText)
			if !ok || err != nil || idx < 0 || check == "" {
				return invalid(data)
			}
			a.Index, a.Check = idx, check
		default:
			return invalid(data)
		}
	default:
		return invalid(data)
	}
	return a, nil
}

func join(kind model.ActionKind, parts ...string) string {
	return string(kind) + ":" + strings.Join(parts, ":")
}

func invalid(data string) (model.Action, error) {
	return model.Action{Kind: model.ActionUnknown, Raw: data}, model.NewInvalidCallbackError(data)
}

func validDecision(d model.Decision) bool {
	switch d {
	case model.DecisionAccept, model.DecisionReject, model.DecisionRegenerate:
		return true
	}
	return false
}

func validSetting(s model.SettingsAction) bool {
	switch s {
	case model.SettingsMenu, model.SettingsInstructions, model.SettingsTopics,
		model.SettingsTrends, model.SettingsGenerate, model.SettingsClose:
		return true
	}
	return false
}
