package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/markup"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

const (
	menuPreviewRunes  = 300
	trendButtonRunes  = 40
	removeTrendPrefix = "🗑 "
)

// settingsMenu renders the current settings. A settings load failure is
// shown in the menu rather than returned.
func (o *Orchestrator) settingsMenu(ctx context.Context) model.Message {
	s, err := o.settings.Load(ctx)
	text := ""
	if err != nil {
		observability.LoggerFrom(ctx, o.logger).Warn("settings load failed", zap.Error(err))
		text = "⚠️ Settings could not be loaded, showing defaults.\n\n"
		s = model.DefaultAISettings()
	}
	s = s.Normalize()
	text += fmt.Sprintf("🤖 AI settings\n\nInstructions:\n%s\n\nTopics (%d): %s\nTrends (%d): %s",
		markup.Ellipsize(s.Instructions, menuPreviewRunes),
		len(s.Topics), markup.Ellipsize(strings.Join(s.Topics, ", "), menuPreviewRunes),
		len(s.Trends), orDash(strings.Join(s.Trends, "; ")),
	)
	return model.Message{Text: text, Inline: model.InlineKeyboard{
		{settingsButton("✏️ Edit instructions", model.SettingsInstructions), settingsButton("📚 Edit topics", model.SettingsTopics)},
		{settingsButton("📈 Trends", model.SettingsTrends), settingsButton("⚡ Generate now", model.SettingsGenerate)},
		{settingsButton("✖️ Close", model.SettingsClose)},
	}}
}

func settingsButton(text string, a model.SettingsAction) model.Button {
	return model.Button{Text: text, Action: model.Action{Kind: model.ActionSettings, Setting: a}}
}

func trendButton(text string, a model.TrendAction) model.Button {
	return model.Button{Text: text, Action: model.Action{Kind: model.ActionTrend, Trend: a}}
}

func removeTrendButton(index int, trend string) model.Button {
	return model.Button{
		Text: removeTrendPrefix + markup.Ellipsize(trend, trendButtonRunes),
		Action: model.Action{
			Kind: model.ActionTrend, Trend: model.TrendRemove,
			Index: index, Check: model.TrendFingerprint(trend),
		},
	}
}

func trendsView(s model.AISettings) model.Message {
	text := "📈 Trends are added to the instructions of every AI draft."
	if len(s.Trends) == 0 {
		text += "\n\nNo trends yet."
	}
	var kb model.InlineKeyboard
	for i, t := range s.Trends {
		kb = append(kb, []model.Button{removeTrendButton(i, t)})
	}
	kb = append(kb,
		[]model.Button{trendButton("➕ Add trend", model.TrendAdd), trendButton("🧹 Clear", model.TrendClear)},
		[]model.Button{settingsButton("⬅️ Menu", model.SettingsMenu)},
	)
	return model.Message{Text: text, Inline: kb}
}

func (o *Orchestrator) settingsAction(ctx context.Context, ev model.Event, sess model.Session, a model.SettingsAction) (string, error) {
	switch a {
	case model.SettingsMenu:
		o.edit(ctx, ev, o.settingsMenu(ctx))
		return "", nil
	case model.SettingsInstructions:
		return "", o.openPrompt(ctx, ev, sess, model.PromptSettingsEdit, model.FieldInstructions,
			"Send the new generation instructions.")
	case model.SettingsTopics:
		return "", o.openPrompt(ctx, ev, sess, model.PromptSettingsEdit, model.FieldTopics,
			"Send the topics, one per line.")
	case model.SettingsTrends:
		s, err := o.loadSettings(ctx)
		if err != nil {
			return "", err
		}
		o.edit(ctx, ev, trendsView(s))
		return "", nil
	case model.SettingsGenerate:
		return "", o.promptTopic(ctx, ev, sess)
	case model.SettingsClose:
		o.edit(ctx, ev, model.Message{Text: "🤖 AI settings closed."})
		return "Closed", nil
	}
	return "", model.NewInvalidCallbackError(string(a))
}

func (o *Orchestrator) trendAction(ctx context.Context, ev model.Event, sess model.Session, a model.Action) (string, error) {
	if a.Trend == model.TrendAdd {
		return "", o.openPrompt(ctx, ev, sess, model.PromptTrendAdd, "", "Send the trend to add.")
	}

	s, err := o.loadSettings(ctx)
	if err != nil {
		return "", err
	}
	toast := ""
	switch a.Trend {
	case model.TrendRemove:
		if a.Index < 0 || a.Index >= len(s.Trends) || model.TrendFingerprint(s.Trends[a.Index]) != a.Check {
			return "", model.NewStaleSelectionError("That trend is no longer in the list.")
		}
		toast = "Removed " + markup.Ellipsize(s.Trends[a.Index], trendButtonRunes)
		s.Trends = append(s.Trends[:a.Index:a.Index], s.Trends[a.Index+1:]...)
	case model.TrendClear:
		s.Trends = []string{}
		toast = "Trends cleared"
	default:
		return "", model.NewInvalidCallbackError(a.Raw)
	}
	if err := o.saveSettings(ctx, s); err != nil {
		return "", err
	}
	o.edit(ctx, ev, trendsView(s))
	return toast, nil
}

// openPrompt holds the chat in the settings workflow until the next text
// answers the prompt.
func (o *Orchestrator) openPrompt(ctx context.Context, ev model.Event, sess model.Session, p model.PromptKind, field model.SettingsField, question string) error {
	if err := guard(sess, model.WorkflowSettings); err != nil {
		return err
	}
	next := model.NewSession(ev.ChatID)
	next.Workflow = model.WorkflowSettings
	next.Settings = &model.SettingsState{Prompt: p, Field: field}
	if err := o.put(ctx, next); err != nil {
		return err
	}
	return o.sendText(ctx, ev.ChatID, question+"\nPress "+LabelCancel+" to keep things as they are.")
}

// answerPrompt consumes the pending prompt. The prompt is cleared first,
// so a failed answer is not retried by the next message.
func (o *Orchestrator) answerPrompt(ctx context.Context, ev model.Event, sess model.Session) error {
	next := sess.Clone()
	prompt, field := next.PopPrompt()
	if err := o.clear(ctx, sess, "finished"); err != nil {
		return err
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return model.NewEmptyInputError()
	}

	switch prompt {
	case model.PromptAITopic:
		if err := o.sendText(ctx, ev.ChatID, "⏳ Generating a draft…"); err != nil {
			return err
		}
		return o.generateDraft(ctx, text)

	case model.PromptSettingsEdit:
		s, err := o.loadSettings(ctx)
		if err != nil {
			return err
		}
		switch field {
		case model.FieldInstructions:
			s.Instructions = text
		case model.FieldTopics:
			s.Topics = strings.Split(text, "\n")
		}
		if err := o.saveSettings(ctx, s); err != nil {
			return err
		}
		if err := o.sendText(ctx, ev.ChatID, "✅ Saved."); err != nil {
			return err
		}
		return o.send(ctx, ev.ChatID, o.settingsMenu(ctx))

	case model.PromptTrendAdd:
		s, err := o.loadSettings(ctx)
		if err != nil {
			return err
		}
		s.Trends = append(s.Trends, text)
		if err := o.saveSettings(ctx, s); err != nil {
			return err
		}
		return o.send(ctx, ev.ChatID, trendsView(s.Normalize()))
	}
	return nil
}

func (o *Orchestrator) loadSettings(ctx context.Context) (model.AISettings, error) {
	s, err := o.settings.Load(ctx)
	if err != nil {
		return model.AISettings{}, settingsError(err)
	}
	return s.Normalize().Clone(), nil
}

func (o *Orchestrator) saveSettings(ctx context.Context, s model.AISettings) error {
	if err := o.settings.Save(ctx, s.Normalize()); err != nil {
		return settingsError(err)
	}
	observability.LoggerFrom(ctx, o.logger).Info("ai settings saved",
		zap.Int("topics", len(s.Topics)), zap.Int("trends", len(s.Trends)))
	return nil
}

func settingsError(err error) error {
	return &model.ErrorEnvelope{
		Code:    model.ErrInternalError,
		Message: "The AI settings could not be updated. Please try again.",
		Detail:  err.Error(),
	}
}
