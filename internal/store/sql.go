package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/ivlev/storyreel/internal/storyboard"
)

// sessionRow is the single persisted session. The media bytes travel with the
// row so a database file alone is enough to restore the session.
type sessionRow struct {
	ID        uint `gorm:"primaryKey"`
	MediaName string
	MediaMIME string
	Media     []byte
	Document  []byte
	Phase     string
	UpdatedAt time.Time
}

func (sessionRow) TableName() string { return "sessions" }

const singletonID = 1

type SQLStore struct {
	db     *gorm.DB
	assets *Assets
}

func NewSQLStore(dsn string, assets *Assets) (*SQLStore, error) {
	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	return &SQLStore{db: db, assets: assets}, nil
}

func (s *SQLStore) Save(ctx context.Context, sess *storyboard.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	media, err := os.ReadFile(sess.Media.Path)
	if err != nil {
		return fmt.Errorf("read media for persistence: %w", err)
	}
	row := sessionRow{
		ID:        singletonID,
		MediaName: sess.Media.Name,
		MediaMIME: sess.Media.MimeType,
		Media:     media,
		Document:  doc,
		Phase:     string(sess.Phase),
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) Load(ctx context.Context) (*storyboard.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storyboard.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess storyboard.Session
	if err := json.Unmarshal(row.Document, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	// The asset directory may have been wiped; restore media from the row.
	if _, err := os.Stat(sess.Media.Path); err != nil && s.assets != nil {
		path, err := s.assets.PutBytes(filepath.Ext(row.MediaName), row.Media)
		if err != nil {
			return nil, fmt.Errorf("restore media: %w", err)
		}
		sess.Media.Path = path
	}
	storyboard.SortScenes(sess.Scenes)
	return &sess, nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, singletonID).Error; err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if s.assets != nil {
		return s.assets.Clear()
	}
	return nil
}
