// Package session stores per-chat conversation state.
package session

import (
	"context"
	"errors"

	"github.com/pitabwire/quill/model"
)

// ErrCorrupt marks a stored session that exists but cannot be decoded.
var ErrCorrupt = errors.New("session: corrupt document")

// Store holds one Session per chat. Implementations never share state
// between chats and always hand out copies, so a caller mutating a
// returned session does not affect the stored one until Put.
type Store interface {
	// Get returns the session of chatID, or an empty session if none exists.
	Get(ctx context.Context, chatID model.ChatID) (model.Session, error)

	// Put replaces the stored session of s.ChatID.
	Put(ctx context.Context, s model.Session) error

	// Clear removes every key of the chat's session.
	Clear(ctx context.Context, chatID model.ChatID) error
}
