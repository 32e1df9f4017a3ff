package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

// proposeDaily sends the next queued pick to the administrator. An empty
// queue is NOT_FOUND.
func (o *Orchestrator) proposeDaily(ctx context.Context) error {
	pick, err := o.backend.DailyNext(ctx)
	if err != nil {
		return err
	}
	observability.LoggerFrom(ctx, o.logger).Info("daily pick proposed", zap.Int64("pick_id", pick.PickID))
	if o.cfg.AdminChatID == 0 {
		return nil
	}
	return o.send(ctx, o.cfg.AdminChatID, dailyProposal(pick))
}

func dailyProposal(p model.DailyPick) model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📌 Daily pick #%d\n\n%s", p.PickID, p.Post.Title)
	if excerpt := firstNonEmpty(p.Post.Description, p.Post.Excerpt); excerpt != "" {
		fmt.Fprintf(&b, "\n\n%s", excerpt)
	}
	if p.Post.URL != "" {
		fmt.Fprintf(&b, "\n\n%s", p.Post.URL)
	}
	return model.Message{
		Text:   b.String(),
		Inline: decisionKeyboard(model.ActionScheduledDecision, p.PickID, model.DecisionAccept, model.DecisionReject),
	}
}

// decideDaily records the administrator's decision on a pick. While the
// decision is being carried out the chat is held in the daily pick
// workflow; a failed decision keeps it there so the button can be pressed
// again.
func (o *Orchestrator) decideDaily(ctx context.Context, ev model.Event, sess model.Session, a model.Action) (string, error) {
	if err := guard(sess, model.WorkflowDailyPick); err != nil {
		return "", err
	}
	held := model.NewSession(ev.ChatID)
	held.Workflow = model.WorkflowDailyPick
	held.DailyPick = &model.DailyPickState{PickID: a.ID}
	if err := o.put(ctx, held); err != nil {
		return "", err
	}
	log := observability.LoggerFrom(ctx, o.logger).With(zap.Int64("pick_id", a.ID))

	switch a.Decision {
	case model.DecisionAccept:
		pick, err := o.backend.DailyNext(ctx)
		if err != nil {
			if model.HasCode(err, model.ErrNotFound) {
				if err := o.clear(ctx, held, "finished"); err != nil {
					return "", err
				}
				return "", model.NewStaleSelectionError("This daily pick is no longer queued.")
			}
			return "", err
		}
		if pick.PickID != a.ID {
			if err := o.clear(ctx, held, "finished"); err != nil {
				return "", err
			}
			return "", model.NewStaleSelectionError(fmt.Sprintf("Daily pick #%d is no longer the next one. The current pick is #%d.", a.ID, pick.PickID))
		}
		if err := o.backend.DailyMark(ctx, a.ID, model.MarkAccepted); err != nil {
			return "", err
		}
		o.metrics.RecordPublish(flowDailyPick, "ok")
		log.Info("daily pick accepted")

		o.broadcast(ctx, flowDailyPick, announcement{
			Title:       pick.Post.Title,
			Description: pick.Post.Description,
			Body:        pick.Post.Excerpt,
			URL:         pick.Post.URL,
			PhotoRef:    pick.Post.ImageURL,
		})
		if err := o.clear(ctx, held, "finished"); err != nil {
			return "", err
		}
		o.edit(ctx, ev, model.Message{Text: fmt.Sprintf("✅ Daily pick #%d accepted: %s", a.ID, pick.Post.Title)})
		return "Accepted", nil

	case model.DecisionReject:
		if err := o.backend.DailyMark(ctx, a.ID, model.MarkRejected); err != nil {
			return "", err
		}
		log.Info("daily pick rejected")
		if err := o.clear(ctx, held, "finished"); err != nil {
			return "", err
		}
		o.edit(ctx, ev, model.Message{Text: fmt.Sprintf("❌ Daily pick #%d rejected.", a.ID)})
		return "Rejected", nil
	}

	if err := o.clear(ctx, held, "finished"); err != nil {
		return "", err
	}
	return "", model.NewInvalidCallbackError(a.Raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
