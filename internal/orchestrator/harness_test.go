package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/internal/session"
	"github.com/pitabwire/quill/model"
)

const (
	adminChat model.ChatID = 1
	userChat  model.ChatID = 42
	channel                = "@quill_news"
)

func testCatalog() *model.Catalog {
	return &model.Catalog{
		Categories: []model.Category{{ID: 1, Slug: "news", Title: "News"}, {ID: 2, Slug: "tech", Title: "Tech"}},
		Tags:       []model.Tag{{ID: 10, Slug: "go", Title: "Go"}, {ID: 11, Slug: "ai", Title: "AI"}},
	}
}

// --- fake backend ---

type mark struct {
	PickID int64
	Action string
}

type fakeBackend struct {
	catalog   *model.Catalog
	metaErr   error
	metaCalls int

	posts     []model.Post
	recentErr error

	created      []model.PostInput
	createErr    error
	createResult model.PublishResult

	daily    model.DailyPick
	dailyErr error
	marks    []mark
	markErr  error

	drafts         map[int64]model.Draft
	draftReqs      []model.DraftRequest
	createDraftErr error
	nextDraft      model.Draft
	rejected       []int64
	regenerated    []int64

	approved      []model.ApproveInput
	approveErr    error
	approveResult model.PublishResult
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		catalog:       testCatalog(),
		createResult:  model.PublishResult{OK: true, URL: "https://example.com/posts/my-title"},
		approveResult: model.PublishResult{OK: true, URL: "https://example.com/posts/ai", Title: "AI Title"},
		drafts:        map[int64]model.Draft{},
	}
}

func (b *fakeBackend) Meta(context.Context) (*model.Catalog, error) {
	b.metaCalls++
	if b.metaErr != nil {
		return nil, b.metaErr
	}
	return b.catalog.Clone(), nil
}

func (b *fakeBackend) RecentPosts(_ context.Context, limit int) ([]model.Post, error) {
	if b.recentErr != nil {
		return nil, b.recentErr
	}
	return b.posts[:min(limit, len(b.posts))], nil
}

func (b *fakeBackend) CreatePost(_ context.Context, in model.PostInput) (model.PublishResult, error) {
	b.created = append(b.created, in)
	if b.createErr != nil {
		return model.PublishResult{}, b.createErr
	}
	return b.createResult, nil
}

func (b *fakeBackend) DailyNext(context.Context) (model.DailyPick, error) {
	if b.dailyErr != nil {
		return model.DailyPick{}, b.dailyErr
	}
	return b.daily, nil
}

func (b *fakeBackend) DailyMark(_ context.Context, pickID int64, action string) error {
	if b.markErr != nil {
		return b.markErr
	}
	b.marks = append(b.marks, mark{pickID, action})
	return nil
}

func (b *fakeBackend) CreateDraft(_ context.Context, req model.DraftRequest) (model.Draft, error) {
	b.draftReqs = append(b.draftReqs, req)
	if b.createDraftErr != nil {
		return model.Draft{}, b.createDraftErr
	}
	return b.nextDraft, nil
}

func (b *fakeBackend) GetDraft(_ context.Context, id int64) (model.Draft, error) {
	d, ok := b.drafts[id]
	if !ok {
		return model.Draft{}, model.NewBackendRejectedError(404, `{"ok":false,"error":"draft not found"}`)
	}
	return d, nil
}

func (b *fakeBackend) RejectDraft(_ context.Context, id int64) error {
	b.rejected = append(b.rejected, id)
	return nil
}

func (b *fakeBackend) RegenerateDraft(_ context.Context, id int64) (model.Draft, error) {
	b.regenerated = append(b.regenerated, id)
	return b.nextDraft, nil
}

func (b *fakeBackend) ApproveDraft(_ context.Context, in model.ApproveInput) (model.PublishResult, error) {
	b.approved = append(b.approved, in)
	if b.approveErr != nil {
		return model.PublishResult{}, b.approveErr
	}
	return b.approveResult, nil
}

// --- fake messenger ---

type sent struct {
	To  string
	Msg model.Message
}

type edited struct {
	To        string
	MessageID int64
	Msg       model.Message
}

type fakeMessenger struct {
	nextID   int64
	sent     []sent
	edited   []edited
	answers  map[string]string
	files    map[string][]byte
	failSend map[string]error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		nextID:   100,
		answers:  map[string]string{},
		files:    map[string][]byte{"file-1": []byte("jpeg-bytes")},
		failSend: map[string]error{},
	}
}

func (m *fakeMessenger) Send(_ context.Context, to string, msg model.Message) (int64, error) {
	if err := m.failSend[to]; err != nil {
		return 0, err
	}
	m.nextID++
	m.sent = append(m.sent, sent{To: to, Msg: msg})
	return m.nextID, nil
}

func (m *fakeMessenger) Edit(_ context.Context, to string, messageID int64, msg model.Message) error {
	m.edited = append(m.edited, edited{To: to, MessageID: messageID, Msg: msg})
	return nil
}

func (m *fakeMessenger) Answer(_ context.Context, callbackID, text string) error {
	if _, dup := m.answers[callbackID]; dup {
		return fmt.Errorf("callback %s answered twice", callbackID)
	}
	m.answers[callbackID] = text
	return nil
}

func (m *fakeMessenger) Download(_ context.Context, ref string) ([]byte, error) {
	data, ok := m.files[ref]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

// to returns the texts sent to a destination.
func (m *fakeMessenger) to(dest string) []string {
	var out []string
	for _, s := range m.sent {
		if s.To == dest {
			out = append(out, s.Msg.Text)
		}
	}
	return out
}

func (m *fakeMessenger) last(t *testing.T, dest string) model.Message {
	t.Helper()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].To == dest {
			return m.sent[i].Msg
		}
	}
	t.Fatalf("nothing sent to %s", dest)
	return model.Message{}
}

func (m *fakeMessenger) lastEdit(t *testing.T) edited {
	t.Helper()
	require.NotEmpty(t, m.edited, "no message edited")
	return m.edited[len(m.edited)-1]
}

// --- fake settings ---

type fakeSettings struct {
	doc     model.AISettings
	saves   int
	saveErr error
}

func (s *fakeSettings) Load(context.Context) (model.AISettings, error) {
	return s.doc.Normalize().Clone(), nil
}

func (s *fakeSettings) Save(_ context.Context, doc model.AISettings) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.doc = doc.Clone()
	return nil
}

// faultySessions fails the next Get or every Clear on demand.
type faultySessions struct {
	*session.MemoryStore
	getErr   error
	clearErr error
}

func (f *faultySessions) Get(ctx context.Context, chatID model.ChatID) (model.Session, error) {
	if err := f.getErr; err != nil {
		f.getErr = nil
		return model.Session{}, err
	}
	return f.MemoryStore.Get(ctx, chatID)
}

func (f *faultySessions) Clear(ctx context.Context, chatID model.ChatID) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.MemoryStore.Clear(ctx, chatID)
}

// --- harness ---

type harness struct {
	o        *Orchestrator
	backend  *fakeBackend
	msgr     *fakeMessenger
	sessions *session.MemoryStore
	faults   *faultySessions
	settings *fakeSettings
	metrics  *observability.Metrics
	cbSeq    int
}

func newHarness(t *testing.T, mods ...func(*Config)) *harness {
	t.Helper()
	cfg := Config{AdminChatID: adminChat, ChannelID: channel, RecentLimit: 3}
	for _, mod := range mods {
		mod(&cfg)
	}
	h := &harness{
		backend:  newFakeBackend(),
		msgr:     newFakeMessenger(),
		sessions: session.NewMemoryStore(0),
		settings: &fakeSettings{doc: model.DefaultAISettings()},
		metrics:  observability.InitMetrics(prometheus.NewRegistry()),
	}
	h.faults = &faultySessions{MemoryStore: h.sessions}
	h.o = New(cfg, Deps{
		Sessions:  h.faults,
		Settings:  h.settings,
		Backend:   h.backend,
		Messenger: h.msgr,
		Metrics:   h.metrics,
	})
	h.o.randInt = func(int) int { return 0 }
	return h
}

func (h *harness) handle(t *testing.T, ev model.Event) {
	t.Helper()
	require.NoError(t, h.o.Handle(context.Background(), ev))
}

func (h *harness) text(t *testing.T, chat model.ChatID, text string) {
	t.Helper()
	h.handle(t, model.Event{ID: "ev", Kind: model.EventText, ChatID: chat, Text: text})
}

func (h *harness) photo(t *testing.T, chat model.ChatID, ref string) {
	t.Helper()
	h.handle(t, model.Event{ID: "ev", Kind: model.EventPhoto, ChatID: chat, PhotoRef: ref})
}

// press simulates a button press and returns the answer shown to the user.
func (h *harness) press(t *testing.T, chat model.ChatID, a model.Action) string {
	t.Helper()
	h.cbSeq++
	id := fmt.Sprintf("cb-%d", h.cbSeq)
	h.handle(t, model.Event{
		ID:       "ev",
		Kind:     model.EventCallback,
		ChatID:   chat,
		Callback: &model.CallbackQuery{ID: id, MessageID: 500, Action: a},
	})
	answer, ok := h.msgr.answers[id]
	require.True(t, ok, "callback %s was not answered", id)
	return answer
}

func (h *harness) timer(t *testing.T, job model.TimerJob) {
	t.Helper()
	h.handle(t, model.Event{ID: "ev", Kind: model.EventTimer, ChatID: adminChat, Job: job})
}

func (h *harness) session(t *testing.T, chat model.ChatID) model.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), chat)
	require.NoError(t, err)
	return s
}

func (h *harness) put(t *testing.T, s model.Session) {
	t.Helper()
	require.NoError(t, h.sessions.Put(context.Background(), s))
}

func choose(slug string) model.Action {
	return model.Action{Kind: model.ActionCategoryChoice, Slug: slug}
}

func toggle(slug string) model.Action {
	return model.Action{Kind: model.ActionTagToggle, Slug: slug}
}

func tagsDone() model.Action {
	return model.Action{Kind: model.ActionTagsDone}
}

// atTags puts userChat's manual draft at the tags step.
func (h *harness) atTags(t *testing.T, tags ...string) {
	t.Helper()
	s := model.NewSession(userChat)
	s.Workflow = model.WorkflowManual
	s.Manual = &model.ManualDraft{
		Step:         model.StepTags,
		Title:        "My Title",
		Body:         "para1\n\npara2",
		Description:  "Short",
		CategorySlug: "tech",
		Tags:         tags,
		Catalog:      testCatalog(),
	}
	h.put(t, s)
}

func containsText(texts []string, sub string) bool {
	for _, s := range texts {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
