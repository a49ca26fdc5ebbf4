package playback

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/effects"
	"github.com/ivlev/storyreel/internal/renderer"
	"github.com/ivlev/storyreel/internal/source"
	"github.com/ivlev/storyreel/internal/storyboard"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recorder struct {
	indices []int
	states  []State
}

func (r *recorder) render(s State, _ storyboard.Scene) {
	r.indices = append(r.indices, s.Active)
	r.states = append(r.states, s)
}

func scenes(starts ...float64) []storyboard.Scene {
	out := make([]storyboard.Scene, len(starts))
	for i, s := range starts {
		out[i] = storyboard.Scene{ID: string(rune('a' + i)), StartTime: s, Caption: "caption"}
	}
	return out
}

func newSync(t *testing.T) (*Synchronizer, *recorder, *fakeClock) {
	t.Helper()
	rec := &recorder{}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewSynchronizer(config.Default().Playback, rec.render, clock.now)
	s.SetScenes(scenes(0, 2, 5.5), 8)
	return s, rec, clock
}

func TestRendersOnlyOnIndexChange(t *testing.T) {
	s, rec, _ := newSync(t)
	require.Equal(t, []int{0}, rec.indices)

	for _, tm := range []float64{0.1, 0.5, 1.99, 2, 2.5, 5.4, 5.5, 7.9, 3} {
		s.OnTimeUpdate(tm)
	}
	assert.Equal(t, []int{0, 1, 2, 1}, rec.indices)
}

func TestBackgroundDuringCrossfade(t *testing.T) {
	s, _, clock := newSync(t)

	s.OnTimeUpdate(2.1)
	st := s.State()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 0, st.Background)

	clock.advance(1100 * time.Millisecond)
	assert.Equal(t, 0, s.State().Background)

	clock.advance(200 * time.Millisecond)
	assert.Equal(t, -1, s.State().Background)
}

func TestSeekAndSkipClamp(t *testing.T) {
	s, rec, _ := newSync(t)

	s.Seek(100)
	assert.Equal(t, 8.0, s.State().Time)
	assert.Equal(t, 2, s.State().Active)

	s.SkipBack()
	assert.Equal(t, 0.0, s.State().Time)
	s.SkipForward()
	assert.Equal(t, 8.0, s.State().Time)
	s.Skip(-3)
	assert.Equal(t, 5.0, s.State().Time)
	s.Seek(-4)
	assert.Equal(t, 0.0, s.State().Time)

	assert.Equal(t, []int{0, 2, 0, 2, 1, 0}, rec.indices)
}

func TestControls(t *testing.T) {
	s, rec, _ := newSync(t)

	assert.False(t, s.State().Playing)
	s.TogglePlay()
	assert.True(t, s.State().Playing)
	s.Pause()
	assert.False(t, s.State().Playing)

	require.True(t, s.JumpToScene(2))
	st := s.State()
	assert.True(t, st.Playing)
	assert.Equal(t, 5.5, st.Time)
	assert.False(t, s.JumpToScene(3))
	assert.False(t, s.JumpToScene(-1))

	s.SetVolume(0.4)
	assert.Equal(t, 0.4, s.State().Volume)
	s.SetVolume(3)
	assert.Equal(t, 1.0, s.State().Volume)
	s.SetVolume(0)
	assert.True(t, s.State().Muted)
	s.SetVolume(0.5)
	assert.False(t, s.State().Muted)
	s.ToggleMute()
	assert.True(t, s.State().Muted)

	n := len(rec.indices)
	s.ToggleCaptions()
	assert.False(t, s.State().Captions)
	require.Len(t, rec.indices, n+1)
	assert.False(t, rec.states[n].Captions)
}

func TestMarkers(t *testing.T) {
	s, _, _ := newSync(t)
	assert.Equal(t, []float64{0, 25, 68.75}, s.Markers())

	// A scene past the end of the media has no marker.
	s.SetScenes(scenes(0, 4, 12), 8)
	assert.Equal(t, []float64{0, 50}, s.Markers())

	s.SetScenes(scenes(0), 0)
	assert.Nil(t, s.Markers())
}

func TestNoScenes(t *testing.T) {
	rec := &recorder{}
	s := NewSynchronizer(config.Default().Playback, rec.render, nil)
	s.OnTimeUpdate(3)
	s.ToggleCaptions()
	assert.Empty(t, rec.indices)
	assert.Equal(t, -1, s.State().Active)
	assert.False(t, s.JumpToScene(0))
}

func TestSetScenesRerenders(t *testing.T) {
	s, rec, _ := newSync(t)
	s.OnTimeUpdate(3)
	s.SetScenes(scenes(0, 2, 5.5), 8)
	assert.Equal(t, []int{0, 1, 1}, rec.indices)
}

type stillBitmaps struct{}

func (stillBitmaps) Bitmap(context.Context, storyboard.Visual) (source.Bitmap, bool) {
	return source.Bitmap{Image: image.NewRGBA(image.Rect(0, 0, 40, 30)), Focus: image.Pt(20, 15)}, true
}

func TestPreviewFrame(t *testing.T) {
	comp, err := renderer.NewCompositor(effects.NewKenBurns())
	require.NoError(t, err)
	p := NewPreviewer(comp, stillBitmaps{}, 160, 1920, 1080)

	data, err := p.Frame(context.Background(), scenes(0, 2), 1, true)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 90), img.Bounds())
}
