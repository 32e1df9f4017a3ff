// Package integration provides a reusable test harness for end-to-end
// testing of the quill bot. It runs the real backend client, Telegram
// client, poller, dispatcher and orchestrator against two httptest servers
// standing in for the content backend and the Bot API.
package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/quill/internal/backend"
	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/dispatch"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/orchestrator"
	"github.com/pitabwire/quill/internal/scheduler"
	"github.com/pitabwire/quill/internal/session"
	"github.com/pitabwire/quill/internal/settings"
	"github.com/pitabwire/quill/internal/telegram"
	"github.com/pitabwire/quill/internal/transport"
	"github.com/pitabwire/quill/model"
)

const (
	AdminChat    int64 = 1
	UserChat     int64 = 42
	Channel            = "@quill_news"
	backendToken       = "backend-secret"

	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// TestHarness is a fully wired bot instance with mock collaborators.
type TestHarness struct {
	t *testing.T

	Backend  *MockBackend
	Telegram *MockTelegram
	Metrics  *observability.Metrics
	Sessions *session.MemoryStore
	Settings *settings.FileStore

	SettingsPath string
	Scheduler    *scheduler.Scheduler
	Ops          *httptest.Server
}

// HarnessOption adjusts the configuration before the bot is built.
type HarnessOption func(*config.Config)

// WithAllowedChats restricts the bot to the given chats plus the admin.
func WithAllowedChats(ids ...int64) HarnessOption {
	return func(c *config.Config) { c.Telegram.AllowedChatIDs = ids }
}

// WithBackendTimeout overrides both backend timeouts.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *config.Config) {
		c.Backend.Timeout = d
		c.Backend.PublishTimeout = d
	}
}

// NewTestHarness starts polling against fresh mock servers. Everything is
// stopped when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	h := &TestHarness{
		t:        t,
		Backend:  newMockBackend(t),
		Telegram: newMockTelegram(t),
	}

	cfg := config.Defaults()
	cfg.Telegram.BotToken = testBotToken
	cfg.Telegram.BaseURL = h.Telegram.URL()
	cfg.Telegram.AdminChatID = AdminChat
	cfg.Telegram.ChannelID = Channel
	cfg.Telegram.PollTimeout = time.Second
	cfg.Telegram.RequestTimeout = 5 * time.Second
	cfg.Backend.BaseURL = h.Backend.URL()
	cfg.Backend.Token = backendToken
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Backend.PublishTimeout = 2 * time.Second
	cfg.Scheduler.Enabled = true
	for _, opt := range opts {
		opt(cfg)
	}

	logger := zaptest.NewLogger(t)
	registry := prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(registry)

	h.Sessions = session.NewMemoryStore(cfg.Session.IdleTTL)
	h.SettingsPath = filepath.Join(t.TempDir(), "ai_settings.json")
	h.Settings = settings.NewFileStore(h.SettingsPath, logger)

	content := backend.New(cfg.Backend, h.Metrics, logger)
	bot := telegram.New(cfg.Telegram, logger)

	orch := orchestrator.New(orchestrator.Config{
		AdminChatID:    model.ChatID(AdminChat),
		ChannelID:      Channel,
		AllowedChatIDs: cfg.Telegram.AllowedChatIDs,
		RecentLimit:    cfg.Backend.RecentLimit,
	}, orchestrator.Deps{
		Sessions:  h.Sessions,
		Settings:  h.Settings,
		Backend:   content,
		Messenger: bot,
		Metrics:   h.Metrics,
		Logger:    logger,
	})
	dispatcher := dispatch.New(dispatch.HandlerFunc(orch.Handle), cfg.Dispatch, h.Metrics, logger)
	poller := telegram.NewPoller(bot, dispatcher, logger)

	sched, err := scheduler.New(cfg.Scheduler, model.ChatID(AdminChat), dispatcher, h.Metrics, logger)
	require.NoError(t, err)
	h.Scheduler = sched

	h.Ops = httptest.NewServer(transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  h.Metrics,
		Gatherer: registry,
		Readiness: observability.ReadinessChecks{
			SessionStore:  h.Sessions,
			SettingsStore: h.Settings,
			Poller:        poller,
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), waitFor)
		defer shutdownCancel()
		_ = dispatcher.Shutdown(shutdownCtx)
		h.Ops.Close()
	})
	return h
}

// SendText delivers a text message from chat.
func (h *TestHarness) SendText(chat int64, text string) {
	h.Telegram.PushText(chat, text)
}

// SendPhoto delivers a photo from chat. The file is downloadable with data.
func (h *TestHarness) SendPhoto(chat int64, fileID string, data []byte) {
	h.Telegram.AddFile(fileID, data)
	h.Telegram.PushPhoto(chat, fileID)
}

// Fire enqueues a scheduled job as the cron runner would.
func (h *TestHarness) Fire(job model.TimerJob) {
	h.Scheduler.Fire(job)
}

// Press taps the most recently rendered inline button labelled text in
// chat and waits for the bot to answer the callback. It returns the
// answer's toast text.
func (h *TestHarness) Press(chat int64, text string) string {
	h.t.Helper()
	chatKey := strconv.FormatInt(chat, 10)

	var (
		messageID int64
		data      string
	)
	require.Eventually(h.t, func() bool {
		messageID, data = h.findButton(chatKey, text)
		return data != ""
	}, waitFor, tick, "no button %q rendered in chat %s", text, chatKey)

	id := h.Telegram.PushCallback(chat, messageID, data)
	var answer OutboundCall
	require.Eventually(h.t, func() bool {
		var ok bool
		answer, ok = h.Telegram.Answer(id)
		return ok
	}, waitFor, tick, "callback %s was not answered", id)
	return answer.Text
}

func (h *TestHarness) findButton(chat, text string) (int64, string) {
	calls := h.Telegram.Calls("sendMessage", "sendPhoto", "editMessageText", "editMessageCaption")
	for i := len(calls) - 1; i >= 0; i-- {
		c := calls[i]
		if c.ChatID != chat {
			continue
		}
		for _, row := range c.Buttons {
			for _, b := range row {
				if b.Text == text {
					return c.MessageID, b.Data
				}
			}
		}
	}
	return 0, ""
}

// WaitForMessage waits until chat has received a message satisfying match
// and returns it.
func (h *TestHarness) WaitForMessage(chat string, match func(OutboundCall) bool) OutboundCall {
	h.t.Helper()
	var found OutboundCall
	require.Eventually(h.t, func() bool {
		for _, c := range h.Telegram.MessagesTo(chat) {
			if match(c) {
				found = c
				return true
			}
		}
		return false
	}, waitFor, tick, "no matching message to %s", chat)
	return found
}

// WaitForMessages waits until chat has received at least n messages.
func (h *TestHarness) WaitForMessages(chat string, n int) []OutboundCall {
	h.t.Helper()
	var got []OutboundCall
	require.Eventually(h.t, func() bool {
		got = h.Telegram.MessagesTo(chat)
		return len(got) >= n
	}, waitFor, tick, "chat %s received fewer than %d messages", chat, n)
	return got
}

// WaitForSession waits until the stored session of chat satisfies match.
func (h *TestHarness) WaitForSession(chat int64, match func(model.Session) bool) model.Session {
	h.t.Helper()
	var got model.Session
	require.Eventually(h.t, func() bool {
		s, err := h.Sessions.Get(context.Background(), model.ChatID(chat))
		if err != nil {
			return false
		}
		got = s
		return match(s)
	}, waitFor, tick, "session of chat %d never matched", chat)
	return got
}

// WaitForBackendCall waits until op has been called n times.
func (h *TestHarness) WaitForBackendCall(op string, n int) []*RecordedRequest {
	h.t.Helper()
	var got []*RecordedRequest
	require.Eventually(h.t, func() bool {
		got = h.Backend.AllRequests(op)
		return len(got) >= n
	}, waitFor, tick, "backend operation %s called fewer than %d times", op, n)
	return got
}

// GetOps performs a GET on the ops server.
func (h *TestHarness) GetOps(path string) (int, string) {
	h.t.Helper()
	resp, err := http.Get(h.Ops.URL + path)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, string(body)
}

// ChatKey renders a chat id the way outbound calls record it.
func ChatKey(chat int64) string {
	return strconv.FormatInt(chat, 10)
}
