package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/quill/model"
)

// FileStore keeps the settings as a JSON file on local disk.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// Load reads the settings file.
func (s *FileStore) Load(context.Context) (model.AISettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.DefaultAISettings(), nil
	}
	if err != nil {
		s.logger.Warn("settings file unreadable, using defaults", zap.String("path", s.path), zap.Error(err))
		return model.DefaultAISettings(), nil
	}

	var out model.AISettings
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("settings file corrupt, using defaults", zap.String("path", s.path), zap.Error(err))
		return model.DefaultAISettings(), nil
	}
	return out.Normalize(), nil
}

// Save writes the settings atomically through a temp file and rename.
func (s *FileStore) Save(_ context.Context, settings model.AISettings) error {
	data, err := json.MarshalIndent(settings.Normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

// HealthCheck verifies the settings directory exists.
func (s *FileStore) HealthCheck(context.Context) error {
	dir := filepath.Dir(s.path)
	st, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("settings dir %s: %w", dir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("settings dir %s is not a directory", dir)
	}
	return nil
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: ensure dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("settings: create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("settings: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("settings: sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("settings: chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("settings: rename temp for %s: %w", path, err)
	}
	return nil
}
