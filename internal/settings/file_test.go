package settings

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/pitabwire/quill/model"
)

func TestFileStore_MissingFileReturnsDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "ai_settings.json"), nil)
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	def := model.DefaultAISettings()
	if got.Instructions != def.Instructions || !slices.Equal(got.Topics, def.Topics) {
		t.Errorf("Load() = %+v, want defaults", got)
	}
}

func TestFileStore_CorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ai_settings.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStore(path, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Instructions != model.DefaultAISettings().Instructions {
		t.Errorf("Load() = %+v, want defaults", got)
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ai_settings.json")
	s := NewFileStore(path, nil)
	ctx := context.Background()

	want := model.AISettings{
		Instructions: "Be brief.",
		Trends:       []string{"elections"},
		Topics:       []string{"space", "oceans"},
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Instructions != want.Instructions || !slices.Equal(got.Trends, want.Trends) || !slices.Equal(got.Topics, want.Topics) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestFileStore_HealthCheck(t *testing.T) {
	dir := t.TempDir()
	if err := NewFileStore(filepath.Join(dir, "s.json"), nil).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}
	if err := NewFileStore(filepath.Join(dir, "missing", "s.json"), nil).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail for a missing dir")
	}
}
