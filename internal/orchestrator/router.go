package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/wizard"
	"github.com/pitabwire/quill/model"
)

// routeText picks the owner of a text message: cancel first, then a
// pending one-shot prompt, which takes any other text including command
// labels, then fixed commands, then the active step.
func (o *Orchestrator) routeText(ctx context.Context, ev model.Event, sess model.Session) error {
	cmd := ParseCommand(ev.Text)
	if cmd == CmdCancel {
		return o.cancel(ctx, ev, sess)
	}

	if sess.PendingPrompt() != model.PromptNone {
		return o.answerPrompt(ctx, ev, sess)
	}

	if cmd != CmdNone {
		if adminCommands[cmd] && !o.isAdmin(ev.ChatID) {
			return model.NewForbiddenError()
		}
		return o.runCommand(ctx, ev, sess, cmd)
	}

	switch sess.Workflow {
	case model.WorkflowNone:
		// Text with nothing active starts the manual wizard at its title.
		sess.Workflow = model.WorkflowManual
		sess.Manual = &model.ManualDraft{Step: o.manual.First()}
		return o.stepManual(ctx, ev, sess, wizard.Input{Kind: wizard.InputText, Text: ev.Text})
	case model.WorkflowManual:
		return o.stepManual(ctx, ev, sess, wizard.Input{Kind: wizard.InputText, Text: ev.Text})
	case model.WorkflowAIDraft:
		return o.stepAIDraft(ctx, ev, sess, wizard.Input{Kind: wizard.InputText, Text: ev.Text})
	default:
		return model.NewWrongStepError(workflowHint(sess.Workflow))
	}
}

func (o *Orchestrator) runCommand(ctx context.Context, ev model.Event, sess model.Session, cmd Command) error {
	switch cmd {
	case CmdStart:
		text := helpText
		if o.isAdmin(ev.ChatID) {
			text += adminHelpText
		}
		return o.send(ctx, ev.ChatID, withKeyboard(text))
	case CmdNew:
		return o.startManual(ctx, ev, sess)
	case CmdStatus:
		return o.sendStatus(ctx, ev, sess)
	case CmdBack:
		return o.back(ctx, ev, sess)
	case CmdSkip:
		return o.stepActive(ctx, ev, sess, wizard.Input{Kind: wizard.InputSkip})
	case CmdFinish:
		return o.stepActive(ctx, ev, sess, wizard.Input{Kind: wizard.InputFinish})
	case CmdRecent:
		return o.sendRecent(ctx, ev)
	case CmdAI:
		return o.send(ctx, ev.ChatID, o.settingsMenu(ctx))
	case CmdGenerate:
		return o.promptTopic(ctx, ev, sess)
	case CmdDaily:
		return o.proposeDaily(ctx)
	}
	return nil
}

// stepActive feeds a wizard input to whichever authoring flow is active.
func (o *Orchestrator) stepActive(ctx context.Context, ev model.Event, sess model.Session, in wizard.Input) error {
	switch sess.Workflow {
	case model.WorkflowManual:
		return o.stepManual(ctx, ev, sess, in)
	case model.WorkflowAIDraft:
		return o.stepAIDraft(ctx, ev, sess, in)
	case model.WorkflowNone:
		return model.NewWrongStepError(wizard.Expected(o.manual.First()))
	default:
		return model.NewWrongStepError(workflowHint(sess.Workflow))
	}
}

func (o *Orchestrator) routePhoto(ctx context.Context, ev model.Event, sess model.Session) error {
	if prompt := sess.PendingPrompt(); prompt != model.PromptNone {
		return model.NewWrongStepError(promptHint(prompt))
	}
	return o.stepActive(ctx, ev, sess, wizard.Input{Kind: wizard.InputPhoto, PhotoRef: ev.PhotoRef})
}

// routeCallback dispatches a button press on its decoded action. Every
// press is answered exactly once; rejections are shown as the answer text.
func (o *Orchestrator) routeCallback(ctx context.Context, ev model.Event, sess model.Session) error {
	action := ev.Callback.Action
	log := observability.LoggerFrom(ctx, o.logger).With(zap.String("action", string(action.Kind)))

	var (
		toast string
		err   error
	)
	switch {
	case action.Kind == model.ActionUnknown:
		err = model.NewInvalidCallbackError(action.Raw)
	case action.AdminOnly() && !o.isAdmin(ev.ChatID):
		err = model.NewForbiddenError()
	default:
		toast, err = o.dispatchAction(ctx, ev, sess, action)
	}

	if err == nil {
		return o.answer(ctx, ev, toast)
	}
	env := model.AsEnvelope(err)
	if !escalates(env) {
		o.metrics.RecordRejected(strings.ToLower(env.Code))
		log.Warn("callback rejected", zap.String("code", env.Code), zap.String("detail", env.Detail))
		return o.answer(ctx, ev, env.Message)
	}
	if answerErr := o.answer(ctx, ev, ""); answerErr != nil {
		log.Warn("answer failed", zap.Error(answerErr))
	}
	return o.report(ctx, ev, err)
}

func (o *Orchestrator) dispatchAction(ctx context.Context, ev model.Event, sess model.Session, a model.Action) (string, error) {
	switch a.Kind {
	case model.ActionCategoryChoice:
		return "", o.stepSelection(ctx, ev, sess, wizard.Input{Kind: wizard.InputChoice, Slug: a.Slug})
	case model.ActionTagToggle:
		return "", o.stepSelection(ctx, ev, sess, wizard.Input{Kind: wizard.InputToggle, Slug: a.Slug})
	case model.ActionTagsDone:
		return "", o.stepSelection(ctx, ev, sess, wizard.Input{Kind: wizard.InputDone})
	case model.ActionScheduledDecision:
		return o.decideDaily(ctx, ev, sess, a)
	case model.ActionAIDraftDecision:
		return o.decideDraft(ctx, ev, sess, a)
	case model.ActionSettings:
		return o.settingsAction(ctx, ev, sess, a.Setting)
	case model.ActionTrend:
		return o.trendAction(ctx, ev, sess, a)
	}
	return "", model.NewInvalidCallbackError(a.Raw)
}

// stepSelection routes category and tag buttons. The AI draft flow is
// checked first; a press with neither flow active is stale.
func (o *Orchestrator) stepSelection(ctx context.Context, ev model.Event, sess model.Session, in wizard.Input) error {
	switch {
	case sess.Workflow == model.WorkflowAIDraft && sess.AIDraft != nil:
		return o.stepAIDraft(ctx, ev, sess, in)
	case sess.Workflow == model.WorkflowManual && sess.Manual != nil:
		return o.stepManual(ctx, ev, sess, in)
	}
	return model.NewStaleSelectionError("This selection is no longer active.")
}

// handleTimer runs a scheduled job for the administrator chat. Failures
// are reported to the administrator and never returned, so one failed run
// does not affect the next.
func (o *Orchestrator) handleTimer(ctx context.Context, ev model.Event) error {
	log := observability.LoggerFrom(ctx, o.logger)
	var err error
	switch ev.Job {
	case model.JobDailyPick:
		err = o.proposeDaily(ctx)
	case model.JobAIGenerate:
		err = o.generateDraft(ctx, "")
	default:
		log.Warn("unknown timer job")
		return nil
	}

	job := string(ev.Job)
	switch {
	case err == nil:
		o.metrics.RecordScheduledRun(job, "ok")
		log.Info("scheduled run finished")
	case model.HasCode(err, model.ErrNotFound):
		o.metrics.RecordScheduledRun(job, "empty")
		log.Info("scheduled run found nothing to propose", zap.Error(err))
	default:
		o.metrics.RecordScheduledRun(job, "failed")
		log.Error("scheduled run failed", zap.Error(err))
		o.notifyAdmin(ctx, "Scheduled "+job+" failed.\n"+adminReport(model.AsEnvelope(err)))
	}
	return nil
}

func promptHint(p model.PromptKind) string {
	switch p {
	case model.PromptAITopic:
		return "Send a topic for the AI draft, or - for a random one."
	case model.PromptSettingsEdit:
		return "Send the new value as text."
	case model.PromptTrendAdd:
		return "Send the trend to add."
	}
	return ""
}

func workflowHint(w model.Workflow) string {
	switch w {
	case model.WorkflowDailyPick:
		return "Use the buttons on the daily pick or press ❌ Cancel."
	case model.WorkflowSettings:
		return "Answer the settings prompt or press ❌ Cancel."
	}
	return "Press ❌ Cancel to start over."
}
