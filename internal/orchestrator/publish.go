package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/markup"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/selection"
	"github.com/pitabwire/quill/model"
)

// Publish flows, used as metric labels.
const (
	flowManual    = "manual"
	flowAIDraft   = "ai_draft"
	flowDailyPick = "daily_pick"
)

const uploadFilename = "post.jpg"

// announcement is what gets broadcast to the public channel.
type announcement struct {
	Title       string
	Description string
	Body        string
	URL         string
	PhotoRef    string
}

// publishManual assembles and persists a manual article. On failure the
// session stays as it was before the done signal.
func (o *Orchestrator) publishManual(ctx context.Context, ev model.Event, sess model.Session) error {
	d := sess.Manual
	log := observability.LoggerFrom(ctx, o.logger)

	// 1. Assemble the payload.
	bodyHTML, err := markup.RenderHTML(d.Body)
	if err != nil {
		return fmt.Errorf("render body: %w", err)
	}
	image, err := o.download(ctx, d.ImageRef)
	if err != nil {
		return err
	}
	in := model.PostInput{
		Title:        d.Title,
		Body:         d.Body,
		BodyHTML:     bodyHTML,
		Description:  d.Description,
		CategorySlug: d.CategorySlug,
		TagSlugs:     selection.Order(d.Tags),
		Image:        image,
	}

	// 2. Persist.
	res, err := o.backend.CreatePost(ctx, in)
	if err != nil {
		o.metrics.RecordPublish(flowManual, "failed")
		return err
	}
	o.metrics.RecordPublish(flowManual, "ok")
	log.Info("article published", zap.String("url", res.URL), zap.Strings("tags", in.TagSlugs))

	// 3. Broadcast, clear and confirm.
	o.broadcast(ctx, flowManual, announcement{
		Title:       d.Title,
		Description: d.Description,
		Body:        d.Body,
		URL:         res.URL,
		PhotoRef:    d.ImageRef,
	})
	return o.finish(ctx, ev, sess, d.Title, res.URL)
}

// approveDraft finalises an accepted AI draft.
func (o *Orchestrator) approveDraft(ctx context.Context, ev model.Event, sess model.Session) error {
	d := sess.AIDraft
	log := observability.LoggerFrom(ctx, o.logger)

	image, err := o.download(ctx, d.ImageRef)
	if err != nil {
		return err
	}
	res, err := o.backend.ApproveDraft(ctx, model.ApproveInput{
		DraftID:    d.DraftID,
		CategoryID: d.CategoryID,
		TagIDs:     d.Catalog.TagIDs(selection.Order(d.Tags)),
		Image:      image,
	})
	if err != nil {
		o.metrics.RecordPublish(flowAIDraft, "failed")
		return err
	}
	o.metrics.RecordPublish(flowAIDraft, "ok")
	log.Info("ai draft published", zap.Int64("draft_id", d.DraftID), zap.String("url", res.URL))

	title := res.Title
	if title == "" {
		title = d.Title
	}
	o.broadcast(ctx, flowAIDraft, announcement{
		Title:       title,
		Description: d.Description,
		Body:        d.Preview,
		URL:         res.URL,
		PhotoRef:    d.ImageRef,
	})
	return o.finish(ctx, ev, sess, title, res.URL)
}

// finish clears a published session and confirms to the chat. A publish
// from a non-admin chat is mirrored to the administrator.
func (o *Orchestrator) finish(ctx context.Context, ev model.Event, sess model.Session, title, url string) error {
	o.edit(ctx, ev, model.Message{Text: "Tags: " + tagTitles(catalogOf(sess), tagsOf(sess))})
	if err := o.clear(ctx, sess, "finished"); err != nil {
		return err
	}
	if !o.isAdmin(ev.ChatID) {
		o.notifyAdmin(ctx, fmt.Sprintf("📣 Chat %d published %q\n%s", ev.ChatID, title, url))
	}
	return o.send(ctx, ev.ChatID, withKeyboard("✅ Published!\n"+url))
}

// broadcast announces a published article on the channel. Failures are
// reported to the administrator only; the article stays published.
func (o *Orchestrator) broadcast(ctx context.Context, flow string, a announcement) {
	if o.cfg.ChannelID == "" {
		return
	}
	msg := model.Message{
		Text:     markup.Announcement(a.Title, a.Description, a.Body, a.URL),
		PhotoRef: a.PhotoRef,
	}
	if _, err := o.messenger.Send(ctx, o.cfg.ChannelID, msg); err != nil {
		o.metrics.RecordPublish(flow, "broadcast_failed")
		observability.LoggerFrom(ctx, o.logger).Warn("broadcast failed", zap.String("channel", o.cfg.ChannelID), zap.Error(err))
		o.notifyAdmin(ctx, fmt.Sprintf("⚠️ %q was published but not broadcast to %s.\n%s\n\n%s",
			a.Title, o.cfg.ChannelID, a.URL, markup.Ellipsize(err.Error(), adminDetailRunes)))
	}
}

// download fetches an attached image. An empty reference means no image.
func (o *Orchestrator) download(ctx context.Context, ref string) (*model.Upload, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil
	}
	data, err := o.messenger.Download(ctx, ref)
	if err != nil {
		return nil, &model.ErrorEnvelope{
			Code:    model.ErrInternalError,
			Message: "The image could not be fetched. Please try again or go back and send it again.",
			Detail:  err.Error(),
		}
	}
	return &model.Upload{Filename: uploadFilename, Data: data}, nil
}

func catalogOf(s model.Session) *model.Catalog {
	switch {
	case s.Manual != nil:
		return s.Manual.Catalog
	case s.AIDraft != nil:
		return s.AIDraft.Catalog
	}
	return nil
}

func tagsOf(s model.Session) []string {
	switch {
	case s.Manual != nil:
		return s.Manual.Tags
	case s.AIDraft != nil:
		return s.AIDraft.Tags
	}
	return nil
}
