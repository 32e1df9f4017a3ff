// Package orchestrator routes chat and timer events to the workflow that
// owns them and drives each workflow's state transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/markup"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/session"
	"github.com/pitabwire/quill/internal/settings"
	"github.com/pitabwire/quill/internal/wizard"
	"github.com/pitabwire/quill/model"
)

// adminDetailRunes bounds raw error text forwarded to the administrator.
const adminDetailRunes = 1500

// Backend is the content service used by the workflows.
type Backend interface {
	Meta(ctx context.Context) (*model.Catalog, error)
	RecentPosts(ctx context.Context, limit int) ([]model.Post, error)
	CreatePost(ctx context.Context, in model.PostInput) (model.PublishResult, error)
	DailyNext(ctx context.Context) (model.DailyPick, error)
	DailyMark(ctx context.Context, pickID int64, action string) error
	CreateDraft(ctx context.Context, req model.DraftRequest) (model.Draft, error)
	GetDraft(ctx context.Context, id int64) (model.Draft, error)
	RejectDraft(ctx context.Context, id int64) error
	RegenerateDraft(ctx context.Context, id int64) (model.Draft, error)
	ApproveDraft(ctx context.Context, in model.ApproveInput) (model.PublishResult, error)
}

// Messenger delivers outbound messages through the chat transport.
type Messenger interface {
	Send(ctx context.Context, to string, msg model.Message) (int64, error)
	Edit(ctx context.Context, to string, messageID int64, msg model.Message) error
	Answer(ctx context.Context, callbackID, text string) error
	Download(ctx context.Context, fileRef string) ([]byte, error)
}

// Config holds the destinations and limits the workflows need.
type Config struct {
	AdminChatID    model.ChatID
	ChannelID      string
	AllowedChatIDs []int64
	RecentLimit    int
}

// Deps are the collaborators of an Orchestrator. Metrics and Logger may
// be nil.
type Deps struct {
	Sessions  session.Store
	Settings  settings.Store
	Backend   Backend
	Messenger Messenger
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Orchestrator handles one event at a time per chat. The dispatcher
// guarantees that calls for the same chat never overlap.
type Orchestrator struct {
	cfg       Config
	allowed   map[model.ChatID]bool
	sessions  session.Store
	settings  settings.Store
	backend   Backend
	messenger Messenger
	metrics   *observability.Metrics
	logger    *zap.Logger

	manual  *wizard.Machine
	aiDraft *wizard.Machine

	now     func() time.Time
	randInt func(n int) int
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	allowed := make(map[model.ChatID]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[model.ChatID(id)] = true
	}
	return &Orchestrator{
		cfg:       cfg,
		allowed:   allowed,
		sessions:  deps.Sessions,
		settings:  deps.Settings,
		backend:   deps.Backend,
		messenger: deps.Messenger,
		metrics:   deps.Metrics,
		logger:    logger.Named("orchestrator"),
		manual:    wizard.Manual(),
		aiDraft:   wizard.AIDraft(),
		now:       time.Now,
		randInt:   rand.IntN,
	}
}

// Handle processes one inbound event. User-facing failures are reported
// to the chat and, when they carry backend or internal detail, to the
// administrator; the returned error is reserved for failures that could
// not be reported at all.
func (o *Orchestrator) Handle(ctx context.Context, ev model.Event) (err error) {
	sess, err := o.loadSession(ctx, ev.ChatID)
	if err != nil {
		return err
	}

	ctx, span := observability.StartEventSpan(ctx, ev, sess.Workflow)
	defer func() { observability.EndSpanWithError(span, err) }()

	log := observability.EventLogger(ctx, o.logger, ev).With(zap.String("workflow", string(sess.Workflow)))
	ctx = observability.WithLogger(ctx, log)
	log.Debug("event routed")
	o.metrics.RecordEvent(string(ev.Kind), string(sess.Workflow))

	if !o.chatAllowed(ev.ChatID) {
		o.metrics.RecordRejected("not_allowed")
		log.Warn("event from chat outside the allow list")
		if ev.Kind == model.EventCallback {
			return o.answer(ctx, ev, "This bot is not available here.")
		}
		return nil
	}

	switch ev.Kind {
	case model.EventText:
		return o.report(ctx, ev, o.routeText(ctx, ev, sess))
	case model.EventPhoto:
		return o.report(ctx, ev, o.routePhoto(ctx, ev, sess))
	case model.EventCallback:
		return o.routeCallback(ctx, ev, sess)
	case model.EventTimer:
		return o.handleTimer(ctx, ev)
	default:
		log.Warn("unsupported event kind")
		return nil
	}
}

func (o *Orchestrator) chatAllowed(chatID model.ChatID) bool {
	if len(o.allowed) == 0 || o.isAdmin(chatID) {
		return true
	}
	return o.allowed[chatID]
}

func (o *Orchestrator) isAdmin(chatID model.ChatID) bool {
	return o.cfg.AdminChatID != 0 && chatID == o.cfg.AdminChatID
}

// report turns a handler error into user and administrator messages.
func (o *Orchestrator) report(ctx context.Context, ev model.Event, err error) error {
	if err == nil {
		return nil
	}
	env := model.AsEnvelope(err)
	log := observability.LoggerFrom(ctx, o.logger)

	if !escalates(env) {
		o.metrics.RecordRejected(strings.ToLower(env.Code))
		log.Warn("event rejected", zap.String("code", env.Code), zap.String("reason", env.Message))
		return o.sendText(ctx, ev.ChatID, env.Message)
	}

	log.Error("event failed", zap.String("code", env.Code), zap.Error(err))
	if o.isAdmin(ev.ChatID) {
		return o.sendText(ctx, ev.ChatID, adminReport(env))
	}
	if sendErr := o.sendText(ctx, ev.ChatID, env.Message); sendErr != nil {
		return sendErr
	}
	o.notifyAdmin(ctx, fmt.Sprintf("Chat %d: %s", ev.ChatID, adminReport(env)))
	return nil
}

// escalates reports whether an error carries detail meant for the
// administrator.
func escalates(env *model.ErrorEnvelope) bool {
	switch env.Code {
	case model.ErrBackendUnavailable, model.ErrBackendTimeout, model.ErrBackendRejected, model.ErrInternalError:
		return true
	}
	return false
}

func adminReport(env *model.ErrorEnvelope) string {
	text := fmt.Sprintf("⚠️ %s\n%s", env.Code, env.Message)
	if env.Detail != "" {
		text += "\n\n" + markup.Ellipsize(env.Detail, adminDetailRunes)
	}
	return text
}

// notifyAdmin sends text to the administrator chat. Without one, or when
// delivery fails, the text is only logged.
func (o *Orchestrator) notifyAdmin(ctx context.Context, text string) {
	log := observability.LoggerFrom(ctx, o.logger)
	if o.cfg.AdminChatID == 0 {
		log.Warn("no admin chat configured", zap.String("text", markup.Truncate(text, 200)))
		return
	}
	if _, err := o.messenger.Send(ctx, o.cfg.AdminChatID.String(), model.Message{Text: text}); err != nil {
		log.Error("admin notification failed", zap.Error(err))
	}
}

func (o *Orchestrator) send(ctx context.Context, chatID model.ChatID, msg model.Message) error {
	if _, err := o.messenger.Send(ctx, chatID.String(), msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

func (o *Orchestrator) sendText(ctx context.Context, chatID model.ChatID, text string) error {
	return o.send(ctx, chatID, model.Message{Text: text})
}

// edit replaces the message a button was pressed on. Failures are logged:
// the message may be too old to edit.
func (o *Orchestrator) edit(ctx context.Context, ev model.Event, msg model.Message) {
	if ev.Callback == nil || ev.Callback.MessageID == 0 {
		return
	}
	if err := o.messenger.Edit(ctx, ev.ChatID.String(), ev.Callback.MessageID, msg); err != nil {
		observability.LoggerFrom(ctx, o.logger).Warn("edit failed", zap.Error(err))
	}
}

func (o *Orchestrator) answer(ctx context.Context, ev model.Event, text string) error {
	if ev.Callback == nil {
		return nil
	}
	if err := o.messenger.Answer(ctx, ev.Callback.ID, text); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// put commits a session.
// loadSession returns the chat's session. An undecodable session is
// dropped so the chat can start over instead of staying stuck on it.
func (o *Orchestrator) loadSession(ctx context.Context, chatID model.ChatID) (model.Session, error) {
	sess, err := o.sessions.Get(ctx, chatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrCorrupt) {
		return model.Session{}, fmt.Errorf("load session %d: %w", chatID, err)
	}
	o.logger.Error("dropping unreadable session", zap.Int64("chat_id", int64(chatID)), zap.Error(err))
	if err := o.sessions.Clear(ctx, chatID); err != nil {
		return model.Session{}, fmt.Errorf("clear unreadable session %d: %w", chatID, err)
	}
	o.metrics.RecordSessionCleared("corrupt")
	return model.NewSession(chatID), nil
}

func (o *Orchestrator) put(ctx context.Context, s model.Session) error {
	s.UpdatedAt = o.now().UTC()
	if err := o.sessions.Put(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// clear removes the chat's session and records why.
func (o *Orchestrator) clear(ctx context.Context, s model.Session, reason string) error {
	if err := o.sessions.Clear(ctx, s.ChatID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if s.Active() {
		o.metrics.RecordSessionCleared(reason)
	}
	return nil
}

// guard refuses to start want while a different workflow is active.
func guard(s model.Session, want model.Workflow) error {
	if s.Active() && s.Workflow != want {
		return model.NewWorkflowBusyError(s.Workflow)
	}
	return nil
}
