package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/markup"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/wizard"
	"github.com/pitabwire/quill/model"
)

const (
	randomTopic        = "-"
	proposalBodyRunes  = 600
	proposalTitleRunes = 120
)

// generateDraft asks the backend for a new draft and proposes it to the
// administrator. An empty topic picks one of the configured topics.
func (o *Orchestrator) generateDraft(ctx context.Context, topic string) error {
	s, err := o.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if topic = strings.TrimSpace(topic); topic == "" || topic == randomTopic {
		topic = o.pickTopic(s)
	}

	draft, err := o.backend.CreateDraft(ctx, model.DraftRequest{
		Topic:        topic,
		Instructions: s.GenerationInstructions(),
	})
	if err != nil {
		return err
	}
	observability.LoggerFrom(ctx, o.logger).Info("ai draft generated",
		zap.Int64("draft_id", draft.ID), zap.String("topic", topic))

	if o.cfg.AdminChatID == 0 {
		return nil
	}
	return o.send(ctx, o.cfg.AdminChatID, draftProposal(draft, topic))
}

func (o *Orchestrator) pickTopic(s model.AISettings) string {
	topics := s.Normalize().Topics
	return topics[o.randInt(len(topics))]
}

func draftProposal(d model.Draft, topic string) model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 AI draft #%d", d.ID)
	if topic != "" {
		fmt.Fprintf(&b, " (topic: %s)", topic)
	}
	fmt.Fprintf(&b, "\n\n%s", markup.Ellipsize(d.Title, proposalTitleRunes))
	if d.Description != "" {
		fmt.Fprintf(&b, "\n\n%s", d.Description)
	}
	if d.Body != "" {
		fmt.Fprintf(&b, "\n\n%s", markup.Ellipsize(d.Body, proposalBodyRunes))
	}
	return model.Message{
		Text: b.String(),
		Inline: decisionKeyboard(model.ActionAIDraftDecision, d.ID,
			model.DecisionAccept, model.DecisionReject, model.DecisionRegenerate),
	}
}

// promptTopic asks the administrator for the topic of a new draft.
func (o *Orchestrator) promptTopic(ctx context.Context, ev model.Event, sess model.Session) error {
	return o.openPrompt(ctx, ev, sess, model.PromptAITopic, "",
		"Send a topic for the AI draft, or "+randomTopic+" for a random one.")
}

func (o *Orchestrator) decideDraft(ctx context.Context, ev model.Event, sess model.Session, a model.Action) (string, error) {
	log := observability.LoggerFrom(ctx, o.logger).With(zap.Int64("draft_id", a.ID))
	switch a.Decision {
	case model.DecisionAccept:
		return "", o.acceptDraft(ctx, ev, sess, a.ID)

	case model.DecisionReject:
		if err := o.backend.RejectDraft(ctx, a.ID); err != nil {
			return "", err
		}
		log.Info("ai draft rejected")
		o.edit(ctx, ev, model.Message{Text: fmt.Sprintf("❌ AI draft #%d rejected.", a.ID)})
		return "Rejected", nil

	case model.DecisionRegenerate:
		draft, err := o.backend.RegenerateDraft(ctx, a.ID)
		if err != nil {
			return "", err
		}
		if draft.ID == 0 {
			draft.ID = a.ID
		}
		log.Info("ai draft regenerated", zap.Int64("new_draft_id", draft.ID))
		o.edit(ctx, ev, draftProposal(draft, ""))
		return "Regenerated", nil
	}
	return "", model.NewInvalidCallbackError(a.Raw)
}

// acceptDraft verifies the draft is still pending and hands it to the
// image, category and tags steps.
func (o *Orchestrator) acceptDraft(ctx context.Context, ev model.Event, sess model.Session, id int64) error {
	if err := guard(sess, model.WorkflowAIDraft); err != nil {
		return err
	}
	draft, err := o.backend.GetDraft(ctx, id)
	if err != nil {
		return err
	}
	if draft.Status != "" && draft.Status != model.DraftPending {
		return model.NewStaleSelectionError(fmt.Sprintf("AI draft #%d is already %s.", id, draft.Status))
	}

	next := model.NewSession(ev.ChatID)
	next.Workflow = model.WorkflowAIDraft
	next.AIDraft = &model.AIDraftState{
		DraftID:     id,
		Step:        o.aiDraft.First(),
		Title:       draft.Title,
		Description: draft.Description,
		Preview:     markup.Truncate(strings.TrimSpace(draft.Body), markup.PreviewRunes),
	}
	if err := o.put(ctx, next); err != nil {
		return err
	}
	observability.LoggerFrom(ctx, o.logger).Info("workflow started", zap.Int64("draft_id", id))
	o.edit(ctx, ev, model.Message{Text: fmt.Sprintf("✅ AI draft #%d accepted: %s", id, draft.Title)})
	return o.send(ctx, ev.ChatID, withKeyboard(wizard.Expected(o.aiDraft.First())))
}

// stepAIDraft applies one input to an accepted draft, mirroring
// stepManual's commit rule.
func (o *Orchestrator) stepAIDraft(ctx context.Context, ev model.Event, sess model.Session, in wizard.Input) error {
	state, effect, err := o.aiDraft.ApplyAIDraft(*sess.AIDraft, in)
	if err != nil {
		return err
	}
	next := sess.Clone()
	next.AIDraft = &state

	switch effect {
	case wizard.EffectFetchCategories:
		catalog, err := o.fetchCategories(ctx)
		if err != nil {
			return err
		}
		next.AIDraft.Catalog = catalog
		if err := o.put(ctx, next); err != nil {
			return err
		}
		return o.send(ctx, ev.ChatID, categoryPrompt(catalog))

	case wizard.EffectFetchTags:
		catalog, err := o.backend.Meta(ctx)
		if err != nil {
			return err
		}
		next.AIDraft.Catalog = catalog
		if cat, ok := catalog.Category(state.CategorySlug); ok {
			next.AIDraft.CategoryID = cat.ID
		}
		if err := o.put(ctx, next); err != nil {
			return err
		}
		o.edit(ctx, ev, model.Message{Text: "Category: " + categoryTitle(catalog, state.CategorySlug)})
		return o.send(ctx, ev.ChatID, tagPrompt(catalog, state.Tags))

	case wizard.EffectPublish:
		return o.approveDraft(ctx, ev, next)
	}

	if err := o.put(ctx, next); err != nil {
		return err
	}
	o.edit(ctx, ev, tagPrompt(state.Catalog, state.Tags))
	return nil
}
