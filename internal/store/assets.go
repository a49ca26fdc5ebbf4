package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Assets keeps uploaded media and generated images on local disk under
// uuid names, so original file names never reach the file system.
type Assets struct {
	Dir string
}

func NewAssets(dir string) (*Assets, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &Assets{Dir: dir}, nil
}

// Put copies r into a new asset, keeping only the extension of filename.
func (a *Assets) Put(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(a.Dir, uuid.New().String()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}

func (a *Assets) PutBytes(ext string, data []byte) (string, error) {
	return a.Put("asset"+ext, bytes.NewReader(data))
}

// Owns reports whether path lives inside the asset directory.
func (a *Assets) Owns(path string) bool {
	rel, err := filepath.Rel(a.Dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && rel != "."
}

// Clear removes every asset.
func (a *Assets) Clear() error {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.Dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ExtensionFor maps the MIME types the app produces to file extensions.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}
