package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/markup"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/wizard"
	"github.com/pitabwire/quill/model"
)

func (o *Orchestrator) startManual(ctx context.Context, ev model.Event, sess model.Session) error {
	if err := guard(sess, model.WorkflowManual); err != nil {
		return err
	}
	next := model.NewSession(ev.ChatID)
	next.Workflow = model.WorkflowManual
	next.Manual = &model.ManualDraft{Step: o.manual.First()}
	if err := o.put(ctx, next); err != nil {
		return err
	}
	observability.LoggerFrom(ctx, o.logger).Info("workflow started", zap.Bool("restart", sess.Active()))
	return o.send(ctx, ev.ChatID, withKeyboard("✍️ New article. "+wizard.Expected(o.manual.First())))
}

// stepManual applies one input to the manual wizard. The session is
// committed only once the transition's I/O has succeeded, so a failed
// fetch or publish leaves the chat where it was.
func (o *Orchestrator) stepManual(ctx context.Context, ev model.Event, sess model.Session, in wizard.Input) error {
	draft, effect, err := o.manual.ApplyManual(*sess.Manual, in)
	if err != nil {
		return err
	}
	next := sess.Clone()
	next.Manual = &draft

	switch effect {
	case wizard.EffectFetchCategories:
		catalog, err := o.fetchCategories(ctx)
		if err != nil {
			return err
		}
		next.Manual.Catalog = catalog
		if err := o.put(ctx, next); err != nil {
			return err
		}
		return o.send(ctx, ev.ChatID, categoryPrompt(catalog))

	case wizard.EffectFetchTags:
		catalog, err := o.backend.Meta(ctx)
		if err != nil {
			return err
		}
		next.Manual.Catalog = catalog
		if err := o.put(ctx, next); err != nil {
			return err
		}
		o.edit(ctx, ev, model.Message{Text: "Category: " + categoryTitle(catalog, draft.CategorySlug)})
		return o.send(ctx, ev.ChatID, tagPrompt(catalog, draft.Tags))

	case wizard.EffectPublish:
		return o.publishManual(ctx, ev, next)
	}

	if err := o.put(ctx, next); err != nil {
		return err
	}
	switch {
	case in.Kind == wizard.InputToggle:
		o.edit(ctx, ev, tagPrompt(draft.Catalog, draft.Tags))
		return nil
	case sess.Manual.Step == model.StepBody && draft.Step == model.StepBody:
		return o.sendText(ctx, ev.ChatID, "Added. Send more text or press "+LabelFinish+".")
	default:
		return o.send(ctx, ev.ChatID, withKeyboard(wizard.Expected(draft.Step)))
	}
}

// fetchCategories loads the catalog for the category step.
func (o *Orchestrator) fetchCategories(ctx context.Context) (*model.Catalog, error) {
	catalog, err := o.backend.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if len(catalog.Categories) == 0 {
		return nil, model.NewNotFoundError("The content service offers no categories right now. Try again later.")
	}
	return catalog, nil
}

// back moves the active authoring flow one step back without touching
// the values already stored.
func (o *Orchestrator) back(ctx context.Context, ev model.Event, sess model.Session) error {
	next := sess.Clone()
	var (
		machine *wizard.Machine
		step    model.Step
		catalog *model.Catalog
		tags    []string
	)
	switch sess.Workflow {
	case model.WorkflowNone:
		return o.send(ctx, ev.ChatID, withKeyboard(wizard.Expected(o.manual.First())))
	case model.WorkflowManual:
		machine = o.manual
		next.Manual.Step = machine.Back(sess.Manual.Step)
		step, catalog, tags = next.Manual.Step, next.Manual.Catalog, next.Manual.Tags
	case model.WorkflowAIDraft:
		machine = o.aiDraft
		next.AIDraft.Step = machine.Back(sess.AIDraft.Step)
		step, catalog, tags = next.AIDraft.Step, next.AIDraft.Catalog, next.AIDraft.Tags
	default:
		return model.NewWrongStepError(workflowHint(sess.Workflow))
	}

	if err := o.put(ctx, next); err != nil {
		return err
	}
	return o.send(ctx, ev.ChatID, stepPrompt(machine, step, catalog, tags))
}

func stepPrompt(m *wizard.Machine, step model.Step, catalog *model.Catalog, tags []string) model.Message {
	switch {
	case step == model.StepCategory && catalog != nil:
		return categoryPrompt(catalog)
	case step == model.StepTags && catalog != nil:
		return tagPrompt(catalog, tags)
	}
	return withKeyboard(fmt.Sprintf("Step %s. %s", m.Label(step), wizard.Expected(step)))
}

func (o *Orchestrator) cancel(ctx context.Context, ev model.Event, sess model.Session) error {
	if err := o.clear(ctx, sess, "cancelled"); err != nil {
		return err
	}
	if !sess.Active() {
		return o.send(ctx, ev.ChatID, withKeyboard("Nothing to cancel."))
	}
	observability.LoggerFrom(ctx, o.logger).Info("workflow cancelled")
	return o.send(ctx, ev.ChatID, withKeyboard("❌ Cancelled. Press "+LabelNew+" to start again."))
}

func (o *Orchestrator) sendStatus(ctx context.Context, ev model.Event, sess model.Session) error {
	return o.send(ctx, ev.ChatID, withKeyboard(o.status(sess)))
}

// status describes the session. Without an active workflow it reports the
// first manual step.
func (o *Orchestrator) status(sess model.Session) string {
	var b strings.Builder
	switch sess.Workflow {
	case model.WorkflowManual:
		d := sess.Manual
		fmt.Fprintf(&b, "📍 Writing an article\nStep %s\n", o.manual.Label(d.Step))
		fmt.Fprintf(&b, "\nTitle: %s", orDash(d.Title))
		fmt.Fprintf(&b, "\nText: %d characters", utf8.RuneCountInString(d.Body))
		fmt.Fprintf(&b, "\nDescription: %s", orDash(markup.Ellipsize(d.Description, 80)))
		fmt.Fprintf(&b, "\nImage: %s", yesNo(d.ImageRef != ""))
		if d.Catalog != nil {
			fmt.Fprintf(&b, "\nCategory: %s", orDash(categoryTitle(d.Catalog, d.CategorySlug)))
			fmt.Fprintf(&b, "\nTags: %s", tagTitles(d.Catalog, d.Tags))
		}
	case model.WorkflowAIDraft:
		d := sess.AIDraft
		fmt.Fprintf(&b, "📍 Publishing AI draft #%d %q\nStep %s", d.DraftID, d.Title, o.aiDraft.Label(d.Step))
	case model.WorkflowDailyPick:
		fmt.Fprintf(&b, "📍 Deciding daily pick #%d", sess.DailyPick.PickID)
	case model.WorkflowSettings:
		fmt.Fprintf(&b, "📍 Editing AI settings\n%s", promptHint(sess.PendingPrompt()))
	default:
		first := o.manual.First()
		fmt.Fprintf(&b, "📍 Nothing in progress.\nStep %s: %s", o.manual.Label(first), wizard.Expected(first))
	}
	return b.String()
}

func (o *Orchestrator) sendRecent(ctx context.Context, ev model.Event) error {
	posts, err := o.backend.RecentPosts(ctx, o.cfg.RecentLimit)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return o.sendText(ctx, ev.ChatID, "📰 No posts yet.")
	}
	var b strings.Builder
	b.WriteString("📰 Recent posts\n")
	for _, p := range posts {
		fmt.Fprintf(&b, "\n• %s\n  %s", p.Title, p.URL)
	}
	return o.sendText(ctx, ev.ChatID, b.String())
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
