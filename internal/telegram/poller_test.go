package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/quill/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	got    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) Submit(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.got <- struct{}{}:
	default:
	}
	return nil
}

func (s *recordingSink) snapshot() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func newTestPoller(t *testing.T) *Poller {
	t.Helper()
	return NewPoller(newTestClient(t, newFakeBotAPI()), newRecordingSink(), nil)
}

// --- decode ---

func TestPoller_decode_text(t *testing.T) {
	p := newTestPoller(t)

	ev, ok := p.decode(update{Message: &message{
		MessageID: 1,
		Chat:      &chat{ID: 42},
		From:      &user{ID: 7},
		Text:      "  My Title  ",
	}})
	require.True(t, ok)
	assert.Equal(t, model.EventText, ev.Kind)
	assert.Equal(t, model.ChatID(42), ev.ChatID)
	assert.Equal(t, int64(7), ev.UserID)
	assert.Equal(t, "My Title", ev.Text)
	assert.NotEmpty(t, ev.ID)
}

func TestPoller_decode_photoPicksLargest(t *testing.T) {
	p := newTestPoller(t)

	ev, ok := p.decode(update{Message: &message{
		Chat: &chat{ID: 42},
		Photo: []photoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 1280, Height: 960},
			{FileID: "medium", Width: 320, Height: 240},
		},
		Caption: "cap",
	}})
	require.True(t, ok)
	assert.Equal(t, model.EventPhoto, ev.Kind)
	assert.Equal(t, "large", ev.PhotoRef)
	assert.Equal(t, "cap", ev.Text)
}

func TestPoller_decode_callback(t *testing.T) {
	p := newTestPoller(t)

	ev, ok := p.decode(update{CallbackQuery: &callbackQuery{
		ID:      "cb-1",
		From:    &user{ID: 7},
		Message: &message{MessageID: 33, Chat: &chat{ID: 42}},
		Data:    "tag-toggle:go",
	}})
	require.True(t, ok)
	assert.Equal(t, model.EventCallback, ev.Kind)
	require.NotNil(t, ev.Callback)
	assert.Equal(t, "cb-1", ev.Callback.ID)
	assert.Equal(t, int64(33), ev.Callback.MessageID)
	assert.Equal(t, model.ActionTagToggle, ev.Callback.Action.Kind)
	assert.Equal(t, "go", ev.Callback.Action.Slug)
}

func TestPoller_decode_undecodableCallbackIsDelivered(t *testing.T) {
	p := newTestPoller(t)

	ev, ok := p.decode(update{CallbackQuery: &callbackQuery{
		ID:      "cb-2",
		Message: &message{MessageID: 1, Chat: &chat{ID: 42}},
		Data:    "cat:legacy",
	}})
	require.True(t, ok)
	assert.Equal(t, model.ActionUnknown, ev.Callback.Action.Kind)
	assert.Equal(t, "cat:legacy", ev.Callback.Action.Raw)
}

func TestPoller_decode_skipped(t *testing.T) {
	p := newTestPoller(t)

	tests := []struct {
		name string
		u    update
	}{
		{"empty update", update{}},
		{"no chat", update{Message: &message{Text: "x"}}},
		{"bot author", update{Message: &message{Chat: &chat{ID: 1}, From: &user{IsBot: true}, Text: "x"}}},
		{"sticker", update{Message: &message{Chat: &chat{ID: 1}}}},
		{"callback without message", update{CallbackQuery: &callbackQuery{ID: "x", Data: "tag-toggle:go"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := p.decode(tt.u)
			assert.False(t, ok)
		})
	}
}

// --- Run ---

func TestPoller_Run_forwardsAndAdvancesOffset(t *testing.T) {
	api := newFakeBotAPI()
	api.results["getUpdates"] = []map[string]any{
		{"update_id": 10, "message": map[string]any{"message_id": 1, "chat": map[string]any{"id": 42}, "text": "hello"}},
		{"update_id": 11, "message": map[string]any{"message_id": 2, "chat": map[string]any{"id": 43}, "text": "world"}},
	}
	sink := newRecordingSink()
	p := NewPoller(newTestClient(t, api), sink, nil)
	p.retry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for range 2 {
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	require.Eventually(t, func() bool { return api.callCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := sink.snapshot()
	assert.Equal(t, "hello", events[0].Text)
	assert.Equal(t, model.ChatID(43), events[1].ChatID)

	api.mu.Lock()
	defer api.mu.Unlock()
	var sawOffset bool
	for _, c := range api.calls[1:] {
		if c.Method == "getUpdates" && c.Body["offset"] == float64(12) {
			sawOffset = true
		}
	}
	assert.True(t, sawOffset, "second poll should request offset 12")
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestPoller_HealthCheck(t *testing.T) {
	p := newTestPoller(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	assert.Error(t, p.HealthCheck(context.Background()), "no poll yet")

	p.lastPoll.Store(now.Add(-5 * time.Second).UnixNano())
	assert.NoError(t, p.HealthCheck(context.Background()))

	p.lastPoll.Store(now.Add(-10 * time.Minute).UnixNano())
	assert.Error(t, p.HealthCheck(context.Background()))
}
