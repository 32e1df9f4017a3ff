package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/quill/internal/backend"
)

// MockBackend is a configurable HTTP test server that simulates the content
// backend. It allows configuring per-operation responses and records all
// received requests for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.RWMutex
	operations   map[string]*operationConfig
	defaults     map[string]*mockResponse
	receivedByOp map[string][]*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock
// backend. Multipart form fields and files are decoded when present.
type RecordedRequest struct {
	Method     string
	Path       string
	Query      map[string]string
	Headers    http.Header
	Body       map[string]any
	Form       map[string]string
	Files      map[string][]byte
	RawBody    []byte
	ReceivedAt time.Time
}

type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status    int
	body      any
	delay     time.Duration
	connError bool
}

// OperationMock is a builder for configuring mock responses for a specific
// operation.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

// backendRoutes maps operation names to the bot API routes.
var backendRoutes = map[string]string{
	backend.OpMeta:            "GET /api/bot/meta/{$}",
	backend.OpRecentPosts:     "GET /api/bot/posts/recent/{$}",
	backend.OpCreatePost:      "POST /api/bot/post/{$}",
	backend.OpDailyNext:       "GET /api/bot/daily/next/{$}",
	backend.OpDailyMark:       "POST /api/bot/daily/mark/{$}",
	backend.OpDraftCreate:     "POST /api/bot/ai/drafts/{$}",
	backend.OpDraftGet:        "GET /api/bot/ai/drafts/{id}/{$}",
	backend.OpDraftReject:     "POST /api/bot/ai/drafts/{id}/reject/{$}",
	backend.OpDraftRegenerate: "POST /api/bot/ai/drafts/{id}/regenerate/{$}",
	backend.OpDraftApprove:    "POST /api/bot/ai/drafts/{id}/approve/{$}",
}

// defaultCatalog is served by the meta operation unless overridden.
var defaultCatalog = map[string]any{
	"categories": []map[string]any{
		{"id": 1, "slug": "news", "title": "News"},
		{"id": 2, "slug": "tech", "title": "Tech"},
	},
	"tags": []map[string]any{
		{"id": 10, "slug": "go", "title": "Go"},
		{"id": 11, "slug": "ai", "title": "AI"},
	},
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:            t,
		operations:   make(map[string]*operationConfig),
		receivedByOp: make(map[string][]*RecordedRequest),
		defaults: map[string]*mockResponse{
			backend.OpMeta:        {status: http.StatusOK, body: defaultCatalog},
			backend.OpRecentPosts: {status: http.StatusOK, body: map[string]any{"posts": []any{}}},
			backend.OpCreatePost:  {status: http.StatusOK, body: map[string]any{"ok": true, "url": "https://example.com/posts/1"}},
			backend.OpDailyNext:   {status: http.StatusNotFound, body: map[string]any{"ok": false, "error": "queue empty"}},
			backend.OpDraftApprove: {status: http.StatusOK, body: map[string]any{
				"ok": true, "url": "https://example.com/posts/ai", "title": "AI Title",
			}},
		},
	}

	mux := http.NewServeMux()
	for opID, pattern := range backendRoutes {
		mux.HandleFunc(pattern, mb.handleOperation(opID))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("mock: no operation registered for %s %s", r.Method, r.URL.Path),
		})
	})

	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnOperation returns a builder for configuring responses for the named
// operation.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{backend: mb, opID: operationID}
}

// RespondWith queues a response with the given status and JSON body. The
// last queued response repeats.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{status: status, body: body})
	return om
}

// RespondWithDelay queues a delayed response to simulate a slow backend.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{status: status, body: body, delay: delay})
	return om
}

// RespondWithConnectionError queues a response that drops the connection.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{connError: true})
	return om
}

func (mb *MockBackend) addResponse(opID string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

func (mb *MockBackend) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mb.record(opID, r)

		resp := mb.nextResponse(opID)
		if resp == nil {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
			return
		}

		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, _ := hj.Hijack(); conn != nil {
					_ = conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		if resp.body != nil {
			_ = json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) record(opID string, r *http.Request) {
	rec := &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      make(map[string]string),
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			rec.Query[key] = values[0]
		}
	}
	if r.Body != nil {
		rec.RawBody, _ = io.ReadAll(r.Body)
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" && len(rec.RawBody) > 0:
		_ = json.Unmarshal(rec.RawBody, &rec.Body)
	case strings.HasPrefix(mediaType, "multipart/"):
		rec.Form, rec.Files = parseMultipart(rec.RawBody, params["boundary"])
	}

	mb.mu.Lock()
	mb.receivedByOp[opID] = append(mb.receivedByOp[opID], rec)
	mb.mu.Unlock()
}

func parseMultipart(body []byte, boundary string) (map[string]string, map[string][]byte) {
	form := make(map[string]string)
	files := make(map[string][]byte)
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		data, _ := io.ReadAll(part)
		if part.FileName() != "" {
			files[part.FormName()] = data
		} else {
			form[part.FormName()] = string(data)
		}
		_ = part.Close()
	}
	return form, files
}

func (mb *MockBackend) nextResponse(opID string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[opID]
	def := mb.defaults[opID]
	mb.mu.RUnlock()
	if !ok || cfg == nil {
		return def
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return def
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that the operation was called the expected number
// of times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, expectedCount int) {
	t.Helper()
	mb.mu.RLock()
	actual := len(mb.receivedByOp[operationID])
	mb.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock backend: operation %q called %d times, want %d", operationID, actual, expectedCount)
	}
}

// AssertNotCalled verifies that the operation was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the last request received for the given operation,
// or nil.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns all requests received for the given operation.
func (mb *MockBackend) AllRequests(operationID string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.receivedByOp[operationID]
	copied := make([]*RecordedRequest, len(reqs))
	copy(copied, reqs)
	return copied
}

// ResetOperation clears recorded requests and configured responses for one
// operation.
func (mb *MockBackend) ResetOperation(operationID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.operations, operationID)
	delete(mb.receivedByOp, operationID)
}
