// Package backend is the HTTP client for the content platform's bot API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

// Operation names used for metrics, spans and logs.
const (
	OpMeta            = "meta"
	OpRecentPosts     = "recent-posts"
	OpDailyNext       = "daily-next"
	OpDailyMark       = "daily-mark"
	OpCreatePost      = "create-post"
	OpDraftCreate     = "ai-draft-create"
	OpDraftGet        = "ai-draft-get"
	OpDraftReject     = "ai-draft-reject"
	OpDraftRegenerate = "ai-draft-regenerate"
	OpDraftApprove    = "ai-draft-approve"
)

const maxResponseBytes = 10 << 20

// Client calls the content backend. Every call is bearer-authenticated and
// bounded by a fixed deadline. Nothing is retried.
type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	timeout        time.Duration
	publishTimeout time.Duration
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// New creates a Client from configuration. metrics may be nil.
func New(cfg config.BackendConfig, metrics *observability.Metrics, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout:        timeout,
		publishTimeout: publishTimeout,
		metrics:        metrics,
		logger:         logger.Named("backend"),
	}
}

// --- Catalog and posts ---

// Meta returns the category and tag catalog.
func (c *Client) Meta(ctx context.Context) (*model.Catalog, error) {
	var out model.Catalog
	if err := c.do(ctx, call{op: OpMeta, method: http.MethodGet, path: "/api/bot/meta/"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentPosts lists the latest published posts.
func (c *Client) RecentPosts(ctx context.Context, limit int) ([]model.Post, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Posts []model.Post `json:"posts"`
	}
	if err := c.do(ctx, call{op: OpRecentPosts, method: http.MethodGet, path: "/api/bot/posts/recent/", query: q}, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// CreatePost publishes a manually authored article.
func (c *Client) CreatePost(ctx context.Context, in model.PostInput) (model.PublishResult, error) {
	fields := [][2]string{
		{"title", in.Title},
		{"body", in.Body},
		{"body_html", in.BodyHTML},
		{"description", in.Description},
		{"category_slug", in.CategorySlug},
		{"tag_slugs", strings.Join(in.TagSlugs, ",")},
	}
	body, contentType, err := multipartBody(fields, in.Image)
	if err != nil {
		return model.PublishResult{}, err
	}

	var out model.PublishResult
	err = c.do(ctx, call{
		op:          OpCreatePost,
		method:      http.MethodPost,
		path:        "/api/bot/post/",
		body:        body,
		contentType: contentType,
		publish:     true,
	}, &out)
	return out, err
}

// --- Daily pick ---

// DailyNext returns the next queued pick. An empty queue is NOT_FOUND.
func (c *Client) DailyNext(ctx context.Context) (model.DailyPick, error) {
	var out model.DailyPick
	if err := c.do(ctx, call{op: OpDailyNext, method: http.MethodGet, path: "/api/bot/daily/next/"}, &out); err != nil {
		return model.DailyPick{}, err
	}
	if out.PickID == 0 || out.Post == nil {
		return model.DailyPick{}, model.NewNotFoundError("There is no queued post to propose.")
	}
	return out, nil
}

// DailyMark records the decision for a pick.
func (c *Client) DailyMark(ctx context.Context, pickID int64, action string) error {
	body, err := jsonBody(map[string]any{"pick_id": pickID, "action": action})
	if err != nil {
		return err
	}
	return c.do(ctx, call{
		op:          OpDailyMark,
		method:      http.MethodPost,
		path:        "/api/bot/daily/mark/",
		body:        body,
		contentType: "application/json",
	}, nil)
}

// --- AI drafts ---

// CreateDraft asks the backend to generate a draft.
func (c *Client) CreateDraft(ctx context.Context, req model.DraftRequest) (model.Draft, error) {
	body, err := jsonBody(req)
	if err != nil {
		return model.Draft{}, err
	}
	var out model.Draft
	err = c.do(ctx, call{
		op:          OpDraftCreate,
		method:      http.MethodPost,
		path:        "/api/bot/ai/drafts/",
		body:        body,
		contentType: "application/json",
		publish:     true,
	}, &out)
	return out, err
}

// GetDraft fetches a draft and its status.
func (c *Client) GetDraft(ctx context.Context, id int64) (model.Draft, error) {
	var out model.Draft
	err := c.do(ctx, call{op: OpDraftGet, method: http.MethodGet, path: draftPath(id, "")}, &out)
	return out, err
}

// RejectDraft marks a draft rejected.
func (c *Client) RejectDraft(ctx context.Context, id int64) error {
	return c.do(ctx, call{op: OpDraftReject, method: http.MethodPost, path: draftPath(id, "reject/")}, nil)
}

// RegenerateDraft replaces the draft's content and returns the new version.
func (c *Client) RegenerateDraft(ctx context.Context, id int64) (model.Draft, error) {
	var out model.Draft
	err := c.do(ctx, call{
		op:      OpDraftRegenerate,
		method:  http.MethodPost,
		path:    draftPath(id, "regenerate/"),
		publish: true,
	}, &out)
	return out, err
}

// ApproveDraft publishes a draft with the chosen category, tags and image.
func (c *Client) ApproveDraft(ctx context.Context, in model.ApproveInput) (model.PublishResult, error) {
	ids := make([]string, len(in.TagIDs))
	for i, id := range in.TagIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	fields := [][2]string{
		{"category_id", strconv.FormatInt(in.CategoryID, 10)},
		{"tag_ids", strings.Join(ids, ",")},
	}
	body, contentType, err := multipartBody(fields, in.Image)
	if err != nil {
		return model.PublishResult{}, err
	}

	var out model.PublishResult
	err = c.do(ctx, call{
		op:          OpDraftApprove,
		method:      http.MethodPost,
		path:        draftPath(in.DraftID, "approve/"),
		body:        body,
		contentType: contentType,
		publish:     true,
	}, &out)
	return out, err
}

func draftPath(id int64, suffix string) string {
	return "/api/bot/ai/drafts/" + strconv.FormatInt(id, 10) + "/" + suffix
}

// --- Request execution ---

type call struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	// publish selects the longer deadline used for uploads and generation.
	publish bool
}

// do executes one request and decodes a 2xx JSON response into out.
// A non-2xx status or an explicit "ok": false is BACKEND_REJECTED with the
// raw body kept in Detail.
func (c *Client) do(ctx context.Context, cl call, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "backend."+cl.op, observability.AttrOperation.String(cl.op))
	defer func() { observability.EndSpanWithError(span, err) }()

	timeout := c.timeout
	if cl.publish {
		timeout = c.publishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.baseURL + cl.path
	if len(cl.query) > 0 {
		reqURL += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("backend: build %s request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+sanitizeHeader(c.token))
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordBackendRequest(cl.op, 0, time.Since(start))
		return classifyTransportError(ctx, cl.op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordBackendRequest(cl.op, resp.StatusCode, time.Since(start))
	if err != nil {
		return classifyTransportError(ctx, cl.op, err)
	}

	c.logger.Debug("backend call",
		zap.String("operation", cl.op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound && cl.op == OpDailyNext {
		return model.NewNotFoundError("There is no queued post to propose.")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.NewBackendRejectedError(resp.StatusCode, string(raw))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return model.NewBackendRejectedError(resp.StatusCode, "empty response body")
		}
		return nil
	}

	var status struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return model.NewBackendRejectedError(resp.StatusCode, string(raw))
	}
	if status.OK != nil && !*status.OK {
		return model.NewBackendRejectedError(resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return model.NewBackendRejectedError(resp.StatusCode, string(raw))
	}
	return nil
}

// classifyTransportError maps a failed round trip onto the error taxonomy.
// A deadline is BACKEND_TIMEOUT. Everything else, including refused
// connections and DNS failures, is BACKEND_UNAVAILABLE.
func classifyTransportError(ctx context.Context, op string, err error) error {
	detail := op + ": " + err.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewBackendTimeoutError(detail)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewBackendTimeoutError(detail)
	}
	return model.NewBackendUnavailableError(detail)
}

// --- Body builders ---

func jsonBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal body: %w", err)
	}
	return b, nil
}

// multipartBody encodes form fields and an optional image part.
func multipartBody(fields [][2]string, image *model.Upload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("backend: write field %s: %w", f[0], err)
		}
	}
	if image != nil && len(image.Data) > 0 {
		name := image.Filename
		if name == "" {
			name = "post.jpg"
		}
		part, err := w.CreateFormFile("image", name)
		if err != nil {
			return nil, "", fmt.Errorf("backend: create image part: %w", err)
		}
		if _, err := part.Write(image.Data); err != nil {
			return nil, "", fmt.Errorf("backend: write image part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("backend: close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
