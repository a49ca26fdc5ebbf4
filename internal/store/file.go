package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/storyreel/internal/storyboard"
)

const sessionFile = "session.yaml"

// FileStore writes the session document as YAML next to the asset directory.
// Media and visuals already live in Assets, so the document only records paths.
type FileStore struct {
	dir    string
	assets *Assets
}

func NewFileStore(dir string, assets *Assets) *FileStore {
	return &FileStore{dir: dir, assets: assets}
}

func (f *FileStore) path() string {
	return filepath.Join(f.dir, sessionFile)
}

func (f *FileStore) Save(_ context.Context, s *storyboard.Session) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	// Write to a temp file then rename so a crash never leaves half a document.
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, f.path())
}

func (f *FileStore) Load(_ context.Context) (*storyboard.Session, error) {
	data, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storyboard.ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s storyboard.Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if _, err := os.Stat(s.Media.Path); err != nil {
		return nil, fmt.Errorf("%w: media %s missing", storyboard.ErrNoSession, s.Media.Path)
	}
	storyboard.SortScenes(s.Scenes)
	return &s, nil
}

func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if f.assets != nil {
		return f.assets.Clear()
	}
	return nil
}
