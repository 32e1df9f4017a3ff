package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/callback"
	"github.com/pitabwire/quill/model"
)

// Sink receives decoded events. It must not block for long: the dispatcher
// queues per chat and returns.
type Sink interface {
	Submit(ctx context.Context, ev model.Event) error
}

// Poller runs the getUpdates loop and forwards every update it understands
// to a Sink.
type Poller struct {
	client *Client
	sink   Sink
	logger *zap.Logger
	now    func() time.Time

	offset   int64
	lastPoll atomic.Int64 // unix nanos of the last successful getUpdates
	retry    time.Duration
}

// NewPoller creates a poller feeding sink.
func NewPoller(client *Client, sink Sink, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		client: client,
		sink:   sink,
		logger: logger.Named("poller"),
		now:    time.Now,
		retry:  time.Second,
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried
// after a short pause.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling started")
	for {
		updates, next, err := p.client.getUpdates(ctx, p.offset)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("polling stopped")
				return nil
			}
			if isPollTimeout(err) {
				p.logger.Debug("getUpdates timeout", zap.Error(err))
			} else {
				p.logger.Warn("getUpdates failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				p.logger.Info("polling stopped")
				return nil
			case <-time.After(p.retry):
			}
			continue
		}
		p.offset = next
		p.lastPoll.Store(p.now().UnixNano())

		for _, u := range updates {
			ev, ok := p.decode(u)
			if !ok {
				continue
			}
			if err := p.sink.Submit(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				p.logger.Warn("event dropped",
					zap.String("event_id", ev.ID),
					zap.Int64("chat_id", int64(ev.ChatID)),
					zap.Error(err),
				)
			}
		}
	}
}

// HealthCheck reports whether a poll succeeded recently.
func (p *Poller) HealthCheck(context.Context) error {
	last := p.lastPoll.Load()
	if last == 0 {
		return errors.New("no successful poll yet")
	}
	limit := 3 * (p.client.pollTimeout + 10*time.Second)
	if age := p.now().Sub(time.Unix(0, last)); age > limit {
		return fmt.Errorf("last successful poll %s ago", age.Round(time.Second))
	}
	return nil
}

// decode converts an update into an event. Updates carrying neither text,
// a photo nor a button press are skipped.
func (p *Poller) decode(u update) (model.Event, bool) {
	ev := model.Event{ID: uuid.NewString(), ReceivedAt: p.now()}

	if cq := u.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return model.Event{}, false
		}
		// An undecodable payload is still delivered so the press can be
		// answered with an "invalid button" notice.
		action, err := callback.Decode(cq.Data)
		if err != nil {
			p.logger.Debug("undecodable callback", zap.String("data", cq.Data), zap.Error(err))
		}
		ev.Kind = model.EventCallback
		ev.ChatID = model.ChatID(cq.Message.Chat.ID)
		ev.UserID = userID(cq.From)
		ev.Callback = &model.CallbackQuery{
			ID:        cq.ID,
			MessageID: cq.Message.MessageID,
			Action:    action,
		}
		return ev, true
	}

	msg := u.Message
	if msg == nil || msg.Chat == nil || (msg.From != nil && msg.From.IsBot) {
		return model.Event{}, false
	}
	ev.ChatID = model.ChatID(msg.Chat.ID)
	ev.UserID = userID(msg.From)

	switch {
	case len(msg.Photo) > 0:
		ev.Kind = model.EventPhoto
		ev.PhotoRef = largestPhoto(msg.Photo)
		ev.Text = strings.TrimSpace(msg.Caption)
	case strings.TrimSpace(msg.Text) != "":
		ev.Kind = model.EventText
		ev.Text = strings.TrimSpace(msg.Text)
	default:
		return model.Event{}, false
	}
	return ev, true
}

// largestPhoto picks the size with the largest area.
func largestPhoto(sizes []photoSize) string {
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best.FileID
}

func userID(u *user) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}
