// Package settings persists the AI generation settings document.
package settings

import (
	"context"

	"github.com/pitabwire/quill/model"
)

// Store loads and saves the AI settings document. Load never fails on a
// missing or corrupt document: it returns the built-in defaults instead.
type Store interface {
	Load(ctx context.Context) (model.AISettings, error)
	Save(ctx context.Context, s model.AISettings) error
}
