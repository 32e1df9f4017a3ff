// Package telegram is the chat transport: a long-poll update loop that turns
// Bot API updates into model events, and the outbound operations the
// orchestrator needs (send, edit, answer, download).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/internal/callback"
	"github.com/pitabwire/quill/internal/config"
	"github.com/pitabwire/quill/internal/observability"
	"github.com/pitabwire/quill/model"
)

// Client talks to the Bot API over plain HTTPS.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	pollTimeout time.Duration
	maxDownload int64
	logger      *zap.Logger
}

// New creates a Client from configuration.
func New(cfg config.TelegramConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	maxDownload := cfg.MaxDownloadBytes
	if maxDownload <= 0 {
		maxDownload = 20 * 1024 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		// getUpdates holds the connection open for pollTimeout, so the
		// client-wide timeout must exceed it.
		http:        &http.Client{Timeout: max(timeout, pollTimeout+10*time.Second)},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.BotToken,
		pollTimeout: pollTimeout,
		maxDownload: maxDownload,
		logger:      logger.Named("telegram"),
	}
}

// --- Wire types (subset of the Bot API) ---

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message,omitempty"`
	CallbackQuery *callbackQuery `json:"callback_query,omitempty"`
}

type message struct {
	MessageID int64       `json:"message_id"`
	Date      int64       `json:"date,omitempty"`
	Chat      *chat       `json:"chat,omitempty"`
	From      *user       `json:"from,omitempty"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []photoSize `json:"photo,omitempty"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    *user    `json:"from,omitempty"`
	Message *message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type user struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type photoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type file struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type replyButton struct {
	Text string `json:"text"`
}

type replyMarkup struct {
	Keyboard       [][]replyButton `json:"keyboard"`
	ResizeKeyboard bool            `json:"resize_keyboard"`
}

// apiResponse is the envelope of every Bot API response.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// RequestError is a Bot API call that returned a non-ok response.
type RequestError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
}

// redactedError hides the bot token that net/http embeds in URL errors.
type redactedError struct {
	err error
}

func (e *redactedError) Error() string { return observability.RedactToken(e.err.Error()) }
func (e *redactedError) Unwrap() error { return e.err }

// --- Outbound operations ---

// Send delivers msg to the chat or channel named by to and returns the
// new message id.
func (c *Client) Send(ctx context.Context, to string, msg model.Message) (int64, error) {
	markup, err := encodeMarkup(msg)
	if err != nil {
		return 0, err
	}
	req := map[string]any{"chat_id": chatIDParam(to)}
	if markup != nil {
		req["reply_markup"] = markup
	}

	method := "sendMessage"
	if msg.PhotoRef != "" {
		method = "sendPhoto"
		req["photo"] = msg.PhotoRef
		if msg.Text != "" {
			req["caption"] = truncateRunes(msg.Text, maxCaptionRunes)
		}
	} else {
		req["text"] = truncateRunes(nonEmpty(msg.Text), maxTextRunes)
	}

	var out message
	if err := c.call(ctx, method, req, &out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

// Edit replaces the text and inline keyboard of a message. A nil keyboard
// removes the buttons. Reply keyboards cannot be attached to an edit.
func (c *Client) Edit(ctx context.Context, to string, messageID int64, msg model.Message) error {
	inline, err := encodeInline(msg.Inline)
	if err != nil {
		return err
	}
	req := map[string]any{
		"chat_id":      chatIDParam(to),
		"message_id":   messageID,
		"reply_markup": inline,
	}
	method := "editMessageText"
	if msg.PhotoRef != "" {
		method = "editMessageCaption"
		req["caption"] = truncateRunes(msg.Text, maxCaptionRunes)
	} else {
		req["text"] = truncateRunes(nonEmpty(msg.Text), maxTextRunes)
	}

	err = c.call(ctx, method, req, nil)
	var reqErr *RequestError
	if errors.As(err, &reqErr) && strings.Contains(reqErr.Description, "message is not modified") {
		return nil
	}
	return err
}

// Answer acknowledges a button press, optionally with a toast.
func (c *Client) Answer(ctx context.Context, callbackID, text string) error {
	req := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		req["text"] = truncateRunes(text, 200)
	}
	return c.call(ctx, "answerCallbackQuery", req, nil)
}

// Download fetches the bytes of a file by its opaque reference.
func (c *Client) Download(ctx context.Context, fileRef string) ([]byte, error) {
	fileRef = strings.TrimSpace(fileRef)
	if fileRef == "" {
		return nil, errors.New("telegram: missing file reference")
	}
	var f file
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileRef}, &f); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return nil, errors.New("telegram getFile: missing file_path")
	}
	if f.FileSize > c.maxDownload {
		return nil, fmt.Errorf("telegram file too large (%d > %d bytes)", f.FileSize, c.maxDownload)
	}

	u := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(f.FilePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &redactedError{err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &redactedError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Method: "download", StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, &redactedError{err: err}
	}
	if int64(len(data)) > c.maxDownload {
		return nil, fmt.Errorf("telegram file too large (>%d bytes)", c.maxDownload)
	}
	return data, nil
}

// getUpdates long-polls for updates starting at offset and returns the
// next offset to request.
func (c *Client) getUpdates(ctx context.Context, offset int64) ([]update, int64, error) {
	secs := max(int(c.pollTimeout.Seconds()), 1)
	req := map[string]any{
		"timeout":         secs,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		req["offset"] = offset
	}

	var out []update
	if err := c.call(ctx, "getUpdates", req, &out); err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range out {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return out, next, nil
}

// call posts a JSON request to a Bot API method and decodes its result.
func (c *Client) call(ctx context.Context, method string, in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("telegram %s: marshal: %w", method, err)
	}
	u := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return &redactedError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &redactedError{err: err}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	_ = resp.Body.Close()
	if err != nil {
		return &redactedError{err: err}
	}

	var env apiResponse
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.OK {
		return &RequestError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   env.ErrorCode,
			Description: env.Description,
		}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func isPollTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// --- Encoding helpers ---

const (
	maxTextRunes    = 4096
	maxCaptionRunes = 1024
)

// chatIDParam sends numeric ids as numbers and channel usernames as strings.
func chatIDParam(to string) any {
	if id, err := strconv.ParseInt(to, 10, 64); err == nil {
		return id
	}
	return to
}

func encodeMarkup(msg model.Message) (any, error) {
	if len(msg.Inline) > 0 {
		return encodeInline(msg.Inline)
	}
	if len(msg.Reply) > 0 {
		rows := make([][]replyButton, 0, len(msg.Reply))
		for _, row := range msg.Reply {
			btns := make([]replyButton, 0, len(row))
			for _, label := range row {
				btns = append(btns, replyButton{Text: label})
			}
			rows = append(rows, btns)
		}
		return replyMarkup{Keyboard: rows, ResizeKeyboard: true}, nil
	}
	return nil, nil
}

func encodeInline(kb model.InlineKeyboard) (inlineMarkup, error) {
	rows := make([][]inlineButton, 0, len(kb))
	for _, row := range kb {
		btns := make([]inlineButton, 0, len(row))
		for _, b := range row {
			data, err := callback.Encode(b.Action)
			if err != nil {
				return inlineMarkup{}, fmt.Errorf("telegram: encode button %q: %w", b.Text, err)
			}
			btns = append(btns, inlineButton{Text: b.Text, CallbackData: data})
		}
		rows = append(rows, btns)
	}
	return inlineMarkup{InlineKeyboard: rows}, nil
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(empty)"
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
