package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

const testToken = "secret-token"

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *observability.Metrics) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := observability.InitMetrics(prometheus.NewRegistry())
	c := New(config.BackendConfig{
		BaseURL:        srv.URL + "/",
		Token:          testToken,
		Timeout:        2 * time.Second,
		PublishTimeout: 2 * time.Second,
	}, m, nil)
	return c, m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- Request shape ---

func TestClient_Meta_sendsBearerAndDecodes(t *testing.T) {
	c, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/bot/meta/", r.URL.Path)
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"categories": []map[string]any{{"id": 1, "slug": "news", "title": "News"}},
			"tags":       []map[string]any{{"id": 7, "slug": "go", "title": "Go"}},
		})
	})

	cat, err := c.Meta(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Categories, 1)
	assert.Equal(t, "news", cat.Categories[0].Slug)
	assert.Equal(t, int64(7), cat.Tags[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues(OpMeta, "200")))
}

func TestClient_RecentPosts_passesLimit(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bot/posts/recent/", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"posts": []map[string]any{{"id": 1, "title": "A", "url": "https://x/a"}},
		})
	})

	posts, err := c.RecentPosts(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "https://x/a", posts[0].URL)
}

func TestClient_CreatePost_multipartFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bot/post/", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "My Title", r.FormValue("title"))
		assert.Equal(t, "para1\n\npara2", r.FormValue("body"))
		assert.Equal(t, "<p>para1</p>", r.FormValue("body_html"))
		assert.Equal(t, "desc", r.FormValue("description"))
		assert.Equal(t, "news", r.FormValue("category_slug"))
		assert.Equal(t, "go,rust", r.FormValue("tag_slugs"))

		f, hdr, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "post.jpg", hdr.Filename)
		assert.Equal(t, []byte{0xff, 0xd8}, data)

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": "https://site/p/1"})
	})

	res, err := c.CreatePost(context.Background(), model.PostInput{
		Title:        "My Title",
		Body:         "para1\n\npara2",
		BodyHTML:     "<p>para1</p>",
		Description:  "desc",
		CategorySlug: "news",
		TagSlugs:     []string{"go", "rust"},
		Image:        &model.Upload{Filename: "post.jpg", Data: []byte{0xff, 0xd8}},
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "https://site/p/1", res.URL)
}

func TestClient_CreatePost_withoutImage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("image")
		assert.Error(t, err, "no image part expected")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": "u"})
	})

	_, err := c.CreatePost(context.Background(), model.PostInput{Title: "t"})
	require.NoError(t, err)
}

func TestClient_ApproveDraft_pathAndFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bot/ai/drafts/42/approve/", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "3", r.FormValue("category_id"))
		assert.Equal(t, "5,9", r.FormValue("tag_ids"))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": "https://site/p/42", "title": "Draft"})
	})

	res, err := c.ApproveDraft(context.Background(), model.ApproveInput{DraftID: 42, CategoryID: 3, TagIDs: []int64{5, 9}})
	require.NoError(t, err)
	assert.Equal(t, "Draft", res.Title)
}

func TestClient_DraftEndpoints(t *testing.T) {
	var paths []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/bot/ai/drafts/":
			var req model.DraftRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "science", req.Topic)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "draft_id": 8, "title": "T", "body": "B"})
		case "/api/bot/ai/drafts/8/":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "draft_id": 8, "status": "pending"})
		case "/api/bot/ai/drafts/8/regenerate/":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "draft_id": 8, "title": "T2"})
		case "/api/bot/ai/drafts/8/reject/":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})
	ctx := context.Background()

	d, err := c.CreateDraft(ctx, model.DraftRequest{Topic: "science", Instructions: "i"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), d.ID)

	got, err := c.GetDraft(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, model.DraftPending, got.Status)

	re, err := c.RegenerateDraft(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "T2", re.Title)

	require.NoError(t, c.RejectDraft(ctx, 8))
	assert.Equal(t, []string{
		"POST /api/bot/ai/drafts/",
		"GET /api/bot/ai/drafts/8/",
		"POST /api/bot/ai/drafts/8/regenerate/",
		"POST /api/bot/ai/drafts/8/reject/",
	}, paths)
}

func TestClient_DailyNextAndMark(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/bot/daily/next/":
			writeJSON(w, http.StatusOK, map[string]any{
				"ok": true, "pick_id": 11,
				"post": map[string]any{"id": 2, "title": "Old", "url": "https://site/old"},
			})
		case "/api/bot/daily/mark/":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(11), body["pick_id"])
			assert.Equal(t, "accepted", body["action"])
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		}
	})

	pick, err := c.DailyNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), pick.PickID)
	assert.Equal(t, "Old", pick.Post.Title)
	require.NoError(t, c.DailyMark(context.Background(), 11, model.MarkAccepted))
}

func TestClient_DailyNext_emptyQueue(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"null pick", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pick_id": nil})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.h)
			_, err := c.DailyNext(context.Background())
			assert.True(t, model.HasCode(err, model.ErrNotFound), "err = %v", err)
			assert.False(t, model.IsBackendError(err))
		})
	}
}

// --- Error mapping ---

func TestClient_okFalseIsRejectedWithRawBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"slug taken"}`))
	})

	_, err := c.CreatePost(context.Background(), model.PostInput{Title: "t"})
	env := model.AsEnvelope(err)
	require.NotNil(t, env)
	assert.Equal(t, model.ErrBackendRejected, env.Code)
	assert.Contains(t, env.Detail, "slug taken")
	assert.NotContains(t, env.Message, "slug taken")
}

func TestClient_non2xxIsRejected(t *testing.T) {
	c, m := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := c.Meta(context.Background())
	env := model.AsEnvelope(err)
	assert.Equal(t, model.ErrBackendRejected, env.Code)
	assert.Equal(t, http.StatusBadGateway, env.Status)
	assert.Equal(t, "<html>bad gateway</html>", env.Detail)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues(OpMeta, "502")))
}

func TestClient_nonJSONSuccessIsRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := c.Meta(context.Background())
	assert.True(t, model.HasCode(err, model.ErrBackendRejected))
}

func TestClient_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	c := New(config.BackendConfig{BaseURL: srv.URL, Token: testToken, Timeout: 50 * time.Millisecond}, nil, nil)

	_, err := c.Meta(context.Background())
	assert.True(t, model.HasCode(err, model.ErrBackendTimeout), "err = %v", err)
	assert.True(t, model.IsBackendError(err))
}

func TestClient_connectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := New(config.BackendConfig{BaseURL: addr, Token: testToken, Timeout: time.Second}, nil, nil)
	_, err := c.Meta(context.Background())

	env := model.AsEnvelope(err)
	assert.Equal(t, model.ErrBackendUnavailable, env.Code)
	assert.True(t, strings.HasPrefix(env.Detail, OpMeta+": "), "detail = %q", env.Detail)
}

func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "abc", sanitizeHeader("a\r\nb\nc"))
}
