package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testBotToken = "123:test-token"

// idleUpdatesWait bounds how long getUpdates holds the connection when no
// update is queued.
const idleUpdatesWait = 50 * time.Millisecond

// Button is an inline button as rendered to the chat.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// OutboundCall is a Bot API method call made by the bot.
type OutboundCall struct {
	Method    string
	ChatID    string
	MessageID int64
	Text      string
	Photo     string
	Buttons   [][]Button
	Keyboard  bool
	Callback  string
}

// MockTelegram is an httptest Bot API. Queued updates are delivered by
// getUpdates; every other method call is recorded.
type MockTelegram struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	updates  []map[string]any
	notify   chan struct{}
	nextID   int64
	updateID int64
	calls    []OutboundCall
	files    map[string][]byte
	failFor  map[string]string
}

func newMockTelegram(t *testing.T) *MockTelegram {
	t.Helper()
	mt := &MockTelegram{
		t:       t,
		notify:  make(chan struct{}, 1),
		nextID:  1000,
		files:   make(map[string][]byte),
		failFor: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /bot"+testBotToken+"/{method}", mt.handleMethod)
	mux.HandleFunc("GET /file/bot"+testBotToken+"/{path...}", mt.handleFile)
	mt.server = httptest.NewServer(mux)
	t.Cleanup(mt.server.Close)
	return mt
}

// URL returns the base URL of the mock Bot API.
func (mt *MockTelegram) URL() string {
	return mt.server.URL
}

// AddFile makes id downloadable through getFile.
func (mt *MockTelegram) AddFile(id string, data []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.files[id] = data
}

// FailSendsTo makes sendMessage and sendPhoto to chat fail with description.
func (mt *MockTelegram) FailSendsTo(chat, description string) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.failFor[chat] = description
}

// PushText queues a text message from a user chat.
func (mt *MockTelegram) PushText(chatID int64, text string) {
	mt.push(map[string]any{"message": mt.message(chatID, map[string]any{"text": text})})
}

// PushPhoto queues a photo message with two sizes; the larger one is fileID.
func (mt *MockTelegram) PushPhoto(chatID int64, fileID string) {
	mt.push(map[string]any{"message": mt.message(chatID, map[string]any{
		"photo": []map[string]any{
			{"file_id": fileID + "-thumb", "width": 90, "height": 60},
			{"file_id": fileID, "width": 1280, "height": 853},
		},
	})})
}

// PushCallback queues a button press on messageID and returns the callback
// query id.
func (mt *MockTelegram) PushCallback(chatID, messageID int64, data string) string {
	mt.mu.Lock()
	mt.updateID++
	id := fmt.Sprintf("cq-%d", mt.updateID)
	mt.mu.Unlock()

	mt.push(map[string]any{"callback_query": map[string]any{
		"id":   id,
		"from": map[string]any{"id": chatID},
		"data": data,
		"message": map[string]any{
			"message_id": messageID,
			"chat":       map[string]any{"id": chatID, "type": "private"},
		},
	}})
	return id
}

func (mt *MockTelegram) message(chatID int64, fields map[string]any) map[string]any {
	mt.mu.Lock()
	mt.nextID++
	id := mt.nextID
	mt.mu.Unlock()

	msg := map[string]any{
		"message_id": id,
		"date":       time.Now().Unix(),
		"chat":       map[string]any{"id": chatID, "type": "private"},
		"from":       map[string]any{"id": chatID},
	}
	for k, v := range fields {
		msg[k] = v
	}
	return msg
}

func (mt *MockTelegram) push(u map[string]any) {
	mt.mu.Lock()
	mt.updateID++
	u["update_id"] = mt.updateID
	mt.updates = append(mt.updates, u)
	mt.mu.Unlock()

	select {
	case mt.notify <- struct{}{}:
	default:
	}
}

// Calls returns the recorded calls whose method is one of methods, or all
// calls when none are given.
func (mt *MockTelegram) Calls(methods ...string) []OutboundCall {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	var out []OutboundCall
	for _, c := range mt.calls {
		if len(methods) == 0 || contains(methods, c.Method) {
			out = append(out, c)
		}
	}
	return out
}

// MessagesTo returns the sendMessage and sendPhoto calls addressed to chat.
func (mt *MockTelegram) MessagesTo(chat string) []OutboundCall {
	var out []OutboundCall
	for _, c := range mt.Calls("sendMessage", "sendPhoto") {
		if c.ChatID == chat {
			out = append(out, c)
		}
	}
	return out
}

// Answer returns the answerCallbackQuery call for a callback id.
func (mt *MockTelegram) Answer(callbackID string) (OutboundCall, bool) {
	for _, c := range mt.Calls("answerCallbackQuery") {
		if c.Callback == callbackID {
			return c, true
		}
	}
	return OutboundCall{}, false
}

func (mt *MockTelegram) handleMethod(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	switch method {
	case "getUpdates":
		mt.writeResult(w, mt.takeUpdates(r))
		return
	case "getFile":
		id, _ := req["file_id"].(string)
		mt.mu.Lock()
		data, ok := mt.files[id]
		mt.mu.Unlock()
		if !ok {
			mt.writeError(w, http.StatusBadRequest, "Bad Request: invalid file_id")
			return
		}
		mt.writeResult(w, map[string]any{"file_id": id, "file_size": len(data), "file_path": "photos/" + id + ".jpg"})
		return
	}

	call := decodeCall(method, req)
	mt.mu.Lock()
	desc, fail := mt.failFor[call.ChatID]
	if fail && (method == "sendMessage" || method == "sendPhoto") {
		mt.mu.Unlock()
		mt.writeError(w, http.StatusBadRequest, desc)
		return
	}
	if method == "sendMessage" || method == "sendPhoto" {
		mt.nextID++
		call.MessageID = mt.nextID
	}
	mt.calls = append(mt.calls, call)
	mt.mu.Unlock()

	switch method {
	case "sendMessage", "sendPhoto":
		mt.writeResult(w, map[string]any{"message_id": call.MessageID, "chat": map[string]any{"id": req["chat_id"]}})
	default:
		mt.writeResult(w, true)
	}
}

// takeUpdates returns queued updates, holding the request briefly when the
// queue is empty.
func (mt *MockTelegram) takeUpdates(r *http.Request) []map[string]any {
	for attempt := 0; attempt < 2; attempt++ {
		mt.mu.Lock()
		if len(mt.updates) > 0 {
			out := mt.updates
			mt.updates = nil
			mt.mu.Unlock()
			return out
		}
		mt.mu.Unlock()
		if attempt == 1 {
			break
		}
		select {
		case <-mt.notify:
		case <-time.After(idleUpdatesWait):
		case <-r.Context().Done():
			return []map[string]any{}
		}
	}
	return []map[string]any{}
}

func (mt *MockTelegram) handleFile(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.PathValue("path"), "photos/"), ".jpg")
	mt.mu.Lock()
	data, ok := mt.files[id]
	mt.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (mt *MockTelegram) writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (mt *MockTelegram) writeError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": status, "description": description})
}

func decodeCall(method string, req map[string]any) OutboundCall {
	call := OutboundCall{Method: method}
	switch v := req["chat_id"].(type) {
	case float64:
		call.ChatID = fmt.Sprintf("%d", int64(v))
	case string:
		call.ChatID = v
	}
	if id, ok := req["message_id"].(float64); ok {
		call.MessageID = int64(id)
	}
	call.Text, _ = req["text"].(string)
	if caption, ok := req["caption"].(string); ok {
		call.Text = caption
	}
	call.Photo, _ = req["photo"].(string)
	call.Callback, _ = req["callback_query_id"].(string)

	if markup, ok := req["reply_markup"].(map[string]any); ok {
		if _, ok := markup["keyboard"]; ok {
			call.Keyboard = true
		}
		if rows, ok := markup["inline_keyboard"]; ok {
			raw, _ := json.Marshal(rows)
			_ = json.Unmarshal(raw, &call.Buttons)
		}
	}
	return call
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
