package orchestrator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/quill/internal/markup"
	"github.com/pitabwire/quill/model"
)

func TestManual_fullFlowPublishesAndBroadcasts(t *testing.T) {
	h := newHarness(t)

	h.text(t, userChat, LabelNew)
	h.text(t, userChat, "My Title")
	h.text(t, userChat, "para1")
	h.text(t, userChat, "para2")
	h.text(t, userChat, LabelFinish)
	h.text(t, userChat, "Short description")
	h.photo(t, userChat, "file-1")
	require.Equal(t, model.StepCategory, h.session(t, userChat).Manual.Step)

	h.press(t, userChat, choose("tech"))
	h.press(t, userChat, toggle("ai"))
	h.press(t, userChat, toggle("go"))
	h.press(t, userChat, tagsDone())

	require.Len(t, h.backend.created, 1)
	in := h.backend.created[0]
	assert.Equal(t, "My Title", in.Title)
	assert.Equal(t, "para1\n\npara2", in.Body)
	assert.Contains(t, in.BodyHTML, "<p>para1</p>")
	assert.Equal(t, "Short description", in.Description)
	assert.Equal(t, "tech", in.CategorySlug)
	assert.Equal(t, []string{"ai", "go"}, in.TagSlugs)
	require.NotNil(t, in.Image)
	assert.Equal(t, "post.jpg", in.Image.Filename)
	assert.Equal(t, []byte("jpeg-bytes"), in.Image.Data)

	post := h.msgr.last(t, channel)
	assert.Equal(t, "file-1", post.PhotoRef)
	assert.Equal(t, markup.Announcement("My Title", "Short description", in.Body, "https://example.com/posts/my-title"), post.Text)

	assert.False(t, h.session(t, userChat).Active(), "session cleared after publish")
	assert.Contains(t, h.msgr.last(t, userChat.String()).Text, "https://example.com/posts/my-title")
	assert.True(t, containsText(h.msgr.to(adminChat.String()), "https://example.com/posts/my-title"), "admin mirror")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PublishTotal.WithLabelValues("manual", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SessionsClearedTotal.WithLabelValues("finished")))
}

func TestManual_textWithoutSessionStartsAtTitle(t *testing.T) {
	h := newHarness(t)

	h.text(t, userChat, "My Title")

	s := h.session(t, userChat)
	require.Equal(t, model.WorkflowManual, s.Workflow)
	assert.Equal(t, "My Title", s.Manual.Title)
	assert.Equal(t, model.StepBody, s.Manual.Step)
}

func TestManual_wrongInputForStep(t *testing.T) {
	h := newHarness(t)
	h.text(t, userChat, LabelNew)
	before := h.session(t, userChat)

	h.photo(t, userChat, "file-1")

	assert.Equal(t, before.Manual, h.session(t, userChat).Manual)
	assert.Contains(t, h.msgr.last(t, userChat.String()).Text, "That doesn't fit this step. Send the article title.")
	assert.Empty(t, h.msgr.to(adminChat.String()), "no admin notification for a wrong step")
}

func TestManual_skipImageFetchesCatalogOnce(t *testing.T) {
	h := newHarness(t)
	s := model.NewSession(userChat)
	s.Workflow = model.WorkflowManual
	s.Manual = &model.ManualDraft{Step: model.StepImage, Title: "T", Body: "B", Description: "D"}
	h.put(t, s)

	h.text(t, userChat, LabelSkip)

	got := h.session(t, userChat).Manual
	assert.Equal(t, model.StepCategory, got.Step)
	assert.Empty(t, got.ImageRef)
	assert.Equal(t, 1, h.backend.metaCalls)

	kb := h.msgr.last(t, userChat.String()).Inline
	require.NotEmpty(t, kb)
	assert.Equal(t, choose("news"), kb[0][0].Action)
}

func TestManual_catalogFailureStaysAtImage(t *testing.T) {
	h := newHarness(t)
	s := model.NewSession(userChat)
	s.Workflow = model.WorkflowManual
	s.Manual = &model.ManualDraft{Step: model.StepImage, Title: "T", Body: "B", Description: "D"}
	h.put(t, s)
	h.backend.metaErr = model.NewBackendUnavailableError("meta: dial tcp: connection refused")

	h.photo(t, userChat, "file-1")

	got := h.session(t, userChat).Manual
	assert.Equal(t, model.StepImage, got.Step)
	assert.Empty(t, got.ImageRef)
	assert.Equal(t, model.NewBackendUnavailableError("").Message, h.msgr.last(t, userChat.String()).Text)
	assert.Contains(t, h.msgr.last(t, adminChat.String()).Text, "connection refused")
}

func TestManual_publishFailureKeepsSessionAndRetriesSamePayload(t *testing.T) {
	h := newHarness(t)
	h.atTags(t, "go")
	before := h.session(t, userChat)
	rawBody := `{"ok":false,"error":"slug already exists"}`
	h.backend.createErr = model.NewBackendRejectedError(200, rawBody)

	h.press(t, userChat, tagsDone())

	after := h.session(t, userChat)
	assert.Equal(t, before.Manual, after.Manual, "fields untouched")
	userText := h.msgr.last(t, userChat.String()).Text
	assert.NotContains(t, userText, "slug already exists")
	assert.Equal(t, model.NewBackendRejectedError(0, "").Message, userText)
	assert.Contains(t, h.msgr.last(t, adminChat.String()).Text, rawBody)
	assert.Empty(t, h.msgr.to(channel), "nothing broadcast")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PublishTotal.WithLabelValues("manual", "failed")))

	h.press(t, userChat, tagsDone())
	require.Len(t, h.backend.created, 2)
	assert.Equal(t, h.backend.created[0], h.backend.created[1])
}

func TestManual_adminDetailIsTruncated(t *testing.T) {
	h := newHarness(t)
	h.atTags(t)
	long := make([]rune, 3000)
	for i := range long {
		long[i] = 'x'
	}
	h.backend.createErr = model.NewBackendRejectedError(500, string(long))

	h.press(t, userChat, tagsDone())

	adminText := h.msgr.last(t, adminChat.String()).Text
	assert.Contains(t, adminText, string(long[:adminDetailRunes])+"…")
	assert.NotContains(t, adminText, string(long[:adminDetailRunes+1]))
}

func TestManual_broadcastFailureIsReportedToAdminOnly(t *testing.T) {
	h := newHarness(t)
	h.atTags(t)
	h.msgr.failSend[channel] = assert.AnError

	h.press(t, userChat, tagsDone())

	assert.False(t, h.session(t, userChat).Active(), "published article still clears the session")
	assert.Contains(t, h.msgr.last(t, userChat.String()).Text, "✅ Published!")
	assert.True(t, containsText(h.msgr.to(adminChat.String()), "was published but not broadcast"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PublishTotal.WithLabelValues("manual", "broadcast_failed")))
}

func TestManual_noChannelSkipsBroadcast(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.ChannelID = "" })
	h.atTags(t)

	h.press(t, userChat, tagsDone())

	require.Len(t, h.backend.created, 1)
	assert.Empty(t, h.msgr.to(channel))
}

func TestManual_toggleTwiceRestoresSelection(t *testing.T) {
	h := newHarness(t)
	h.atTags(t)

	h.press(t, userChat, toggle("go"))
	assert.Equal(t, []string{"go"}, h.session(t, userChat).Manual.Tags)
	assert.Equal(t, "✅ Go", h.msgr.lastEdit(t).Msg.Inline[0][0].Text)

	h.press(t, userChat, toggle("go"))
	assert.Empty(t, h.session(t, userChat).Manual.Tags)
	assert.Equal(t, "Go", h.msgr.lastEdit(t).Msg.Inline[0][0].Text)
}

func TestManual_unknownTagIsStale(t *testing.T) {
	h := newHarness(t)
	h.atTags(t)

	answer := h.press(t, userChat, toggle("rust"))

	assert.Contains(t, answer, "no longer offered")
	assert.Empty(t, h.session(t, userChat).Manual.Tags)
}

func TestManual_back(t *testing.T) {
	h := newHarness(t)
	h.text(t, userChat, LabelNew)

	h.text(t, userChat, LabelBack)
	assert.Equal(t, model.StepTitle, h.session(t, userChat).Manual.Step, "back from title is a no-op")

	h.text(t, userChat, "My Title")
	h.text(t, userChat, LabelBack)
	s := h.session(t, userChat)
	assert.Equal(t, model.StepTitle, s.Manual.Step)
	assert.Equal(t, "My Title", s.Manual.Title, "back keeps stored values")
}

func TestManual_backToCategoryShowsKeyboard(t *testing.T) {
	h := newHarness(t)
	h.atTags(t, "go")

	h.text(t, userChat, LabelBack)

	assert.Equal(t, model.StepCategory, h.session(t, userChat).Manual.Step)
	assert.NotEmpty(t, h.msgr.last(t, userChat.String()).Inline)
}

func TestManual_cancelClearsAndStatusShowsFirstStep(t *testing.T) {
	h := newHarness(t)
	h.atTags(t, "go")

	h.text(t, userChat, LabelCancel)
	assert.False(t, h.session(t, userChat).Active())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SessionsClearedTotal.WithLabelValues("cancelled")))

	h.text(t, userChat, LabelStatus)
	assert.Contains(t, h.msgr.last(t, userChat.String()).Text, "Step 1/6 Title")
}

func TestManual_statusDescribesDraft(t *testing.T) {
	h := newHarness(t)
	h.atTags(t, "ai", "go")

	h.text(t, userChat, "/status")

	text := h.msgr.last(t, userChat.String()).Text
	assert.Contains(t, text, "Step 6/6 Tags")
	assert.Contains(t, text, "Title: My Title")
	assert.Contains(t, text, "Category: Tech")
	assert.Contains(t, text, "Tags: AI, Go")
}

func TestManual_newWhileOtherWorkflowIsBusy(t *testing.T) {
	h := newHarness(t)
	s := model.NewSession(adminChat)
	s.Workflow = model.WorkflowAIDraft
	s.AIDraft = &model.AIDraftState{DraftID: 7, Step: model.StepImage}
	h.put(t, s)

	h.text(t, adminChat, LabelNew)

	assert.Equal(t, model.WorkflowAIDraft, h.session(t, adminChat).Workflow)
	assert.Contains(t, h.msgr.last(t, adminChat.String()).Text, "publishing an AI draft")
}

func TestManual_newRestartsManualWizard(t *testing.T) {
	h := newHarness(t)
	h.atTags(t, "go")

	h.text(t, userChat, "/new")

	s := h.session(t, userChat)
	assert.Equal(t, model.StepTitle, s.Manual.Step)
	assert.Empty(t, s.Manual.Title)
}

func TestManual_recentPosts(t *testing.T) {
	h := newHarness(t)
	h.backend.posts = []model.Post{
		{Title: "One", URL: "https://example.com/1"},
		{Title: "Two", URL: "https://example.com/2"},
	}

	h.text(t, userChat, LabelRecent)

	text := h.msgr.last(t, userChat.String()).Text
	assert.Contains(t, text, "• One\n  https://example.com/1")
	assert.Contains(t, text, "• Two\n  https://example.com/2")
}

func TestManual_selectionWithoutSessionIsStale(t *testing.T) {
	h := newHarness(t)

	answer := h.press(t, userChat, toggle("go"))

	assert.Equal(t, "This selection is no longer active.", answer)
	assert.False(t, h.session(t, userChat).Active())
}
