package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/storyboard"
)

func newSession(t *testing.T, assets *Assets) *storyboard.Session {
	t.Helper()
	media, err := assets.Put("lecture.mp3", strings.NewReader("ID3 fake audio"))
	require.NoError(t, err)
	return &storyboard.Session{
		Media:    storyboard.Media{Name: "lecture.mp3", Path: media, MimeType: "audio/mpeg"},
		Analysis: storyboard.Analysis{Title: "Brachial Plexus"},
		Scenes: storyboard.NewScenes([]storyboard.Beat{
			{Timestamp: 5, Caption: "roots"},
			{Timestamp: 0, Caption: "**intro**"},
		}),
		Phase: storyboard.PhaseComplete,
	}
}

func testStores(t *testing.T) map[string]func(*Assets) Store {
	dir := t.TempDir()
	return map[string]func(*Assets) Store{
		"file": func(a *Assets) Store { return NewFileStore(dir, a) },
		"sqlite": func(a *Assets) Store {
			s, err := NewSQLStore(filepath.Join(dir, "session.db"), a)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, open := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			assets, err := NewAssets(t.TempDir())
			require.NoError(t, err)
			st := open(assets)
			ctx := context.Background()

			_, err = st.Load(ctx)
			assert.ErrorIs(t, err, storyboard.ErrNoSession)

			in := newSession(t, assets)
			require.NoError(t, st.Save(ctx, in))

			out, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, in.Analysis.Title, out.Analysis.Title)
			assert.Equal(t, storyboard.PhaseComplete, out.Phase)
			require.Len(t, out.Scenes, 2)
			assert.Equal(t, "**intro**", out.Scenes[0].Caption)
			assert.Equal(t, in.Scenes[1].ID, out.Scenes[1].ID)

			require.NoError(t, st.Clear(ctx))
			_, err = st.Load(ctx)
			assert.ErrorIs(t, err, storyboard.ErrNoSession)
			_, err = os.Stat(in.Media.Path)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestSQLStoreRestoresMissingMedia(t *testing.T) {
	assets, err := NewAssets(t.TempDir())
	require.NoError(t, err)
	st, err := NewSQLStore(filepath.Join(t.TempDir(), "s.db"), assets)
	require.NoError(t, err)

	in := newSession(t, assets)
	require.NoError(t, st.Save(context.Background(), in))
	require.NoError(t, assets.Clear())

	out, err := st.Load(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(out.Media.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3 fake audio", string(data))
}

func TestAssets(t *testing.T) {
	dir := t.TempDir()
	assets, err := NewAssets(dir)
	require.NoError(t, err)

	p, err := assets.Put("../../etc/passwd.PNG", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(p))
	assert.Equal(t, ".png", filepath.Ext(p))
	assert.True(t, assets.Owns(p))
	assert.False(t, assets.Owns("/etc/passwd"))
	assert.Equal(t, ".pdf", ExtensionFor("application/pdf"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.StorageConfig{Driver: "redis"}, nil)
	assert.Error(t, err)
}
