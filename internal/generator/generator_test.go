package generator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/genai"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/session"
	"github.com/ivlev/storyreel/internal/store"
	"github.com/ivlev/storyreel/internal/storyboard"
)

type fakeAnalyzer struct {
	analysis storyboard.Analysis
	err      error
	gotMIME  string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ []byte, mimeType string) (storyboard.Analysis, error) {
	f.gotMIME = mimeType
	return f.analysis, f.err
}

type fakeImages struct {
	inFlight, peak atomic.Int32
	calls          atomic.Int32
	block          chan struct{}
}

func (f *fakeImages) GenerateImage(_ context.Context, prompt string) (genai.Image, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	if strings.Contains(prompt, "fail") {
		return genai.Image{}, errors.New("model refused")
	}
	return genai.Image{Data: []byte("png:" + prompt), MimeType: "image/png"}, nil
}

type memStore struct {
	mu    sync.Mutex
	saved *storyboard.Session
}

func (m *memStore) Save(_ context.Context, s *storyboard.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = s.Clone()
	return nil
}
func (m *memStore) Load(context.Context) (*storyboard.Session, error) { return nil, storyboard.ErrNoSession }
func (m *memStore) Clear(context.Context) error                      { return nil }

type fixture struct {
	gen    *Generator
	mgr    *session.Manager
	st     *memStore
	images *fakeImages
	pauses []time.Duration
}

func newFixture(t *testing.T, a *fakeAnalyzer) *fixture {
	t.Helper()
	assets, err := store.NewAssets(t.TempDir())
	require.NoError(t, err)
	f := &fixture{st: &memStore{}, images: &fakeImages{}}
	f.mgr = session.NewManager(f.st, logger.Nop())
	cfg := config.Default().GenAI
	f.gen = New(f.mgr, a, f.images, assets, cfg, logger.Nop())
	f.gen.sleep = func(_ context.Context, d time.Duration) error {
		f.pauses = append(f.pauses, d)
		return nil
	}
	return f
}

func beats(prompts ...string) []storyboard.Beat {
	out := make([]storyboard.Beat, len(prompts))
	for i, p := range prompts {
		out[i] = storyboard.Beat{Timestamp: float64(i), Caption: p, VisualPrompt: p}
	}
	return out
}

func ingest(t *testing.T, g *Generator) storyboard.Media {
	t.Helper()
	m, err := g.Ingest("lecture.mp3", "", strings.NewReader("audio"))
	require.NoError(t, err)
	return m
}

func TestProcessBatchesAndCompletes(t *testing.T) {
	a := &fakeAnalyzer{analysis: storyboard.Analysis{Title: "T", Storyboard: beats("a", "b", "fail c", "d", "e", "f", "g")}}
	f := newFixture(t, a)

	require.NoError(t, f.gen.Process(context.Background(), ingest(t, f.gen)))

	assert.Equal(t, "audio/mpeg", a.gotMIME)
	s := f.mgr.Snapshot()
	assert.Equal(t, storyboard.PhaseComplete, s.Phase)
	assert.Equal(t, 7, s.VisualsReady())
	assert.Equal(t, storyboard.VisualFailed, s.Scenes[2].Visual.Kind)
	assert.Equal(t, storyboard.VisualImage, s.Scenes[0].Visual.Kind)

	// 7 scenes in batches of 3: two pauses, never more than 3 calls at once.
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, f.pauses)
	assert.LessOrEqual(t, f.images.peak.Load(), int32(3))
	assert.Equal(t, int32(7), f.images.calls.Load())

	require.NotNil(t, f.st.saved)
	assert.Equal(t, storyboard.PhaseComplete, f.st.saved.Phase)
}

func TestProcessAnalysisFailure(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{err: errors.New("quota")})

	err := f.gen.Process(context.Background(), ingest(t, f.gen))
	assert.ErrorIs(t, err, storyboard.ErrAnalysis)
	s := f.mgr.Snapshot()
	assert.Equal(t, storyboard.PhaseError, s.Phase)
	assert.Contains(t, s.Error, "quota")
	assert.Zero(t, f.images.calls.Load())
}

func TestProcessMediaReadFailure(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{})
	err := f.gen.Process(context.Background(), storyboard.Media{Name: "gone.mp3", Path: "/nonexistent/gone.mp3"})
	assert.ErrorIs(t, err, storyboard.ErrMediaRead)
	assert.Equal(t, storyboard.PhaseError, f.mgr.Snapshot().Phase)
}

func TestUploadDuringGenerationWins(t *testing.T) {
	a := &fakeAnalyzer{analysis: storyboard.Analysis{Storyboard: beats("a")}}
	f := newFixture(t, a)
	f.images.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.gen.Process(context.Background(), ingest(t, f.gen)) }()

	require.Eventually(t, func() bool { return f.images.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	id, err := f.mgr.SceneID(0)
	require.NoError(t, err)
	_, err = f.gen.AttachVisual(context.Background(), id, "mine.jpg", "", strings.NewReader("jpeg"))
	require.NoError(t, err)

	close(f.images.block)
	require.NoError(t, <-done)

	v := f.mgr.Snapshot().Scenes[0].Visual
	assert.True(t, v.UserProvided)
	assert.Equal(t, "image/jpeg", v.MimeType)
}

func TestRegenerate(t *testing.T) {
	a := &fakeAnalyzer{analysis: storyboard.Analysis{Storyboard: beats("fail first")}}
	f := newFixture(t, a)
	require.NoError(t, f.gen.Process(context.Background(), ingest(t, f.gen)))
	id, _ := f.mgr.SceneID(0)

	_, err := f.mgr.Apply(context.Background(), id, session.SetPrompt("better prompt"))
	require.NoError(t, err)
	require.NoError(t, f.gen.Regenerate(context.Background(), id))

	sc := f.mgr.Snapshot().Scenes[0]
	assert.Equal(t, storyboard.VisualImage, sc.Visual.Kind)
	assert.False(t, sc.Regenerating)
}

func TestAttachVisualKinds(t *testing.T) {
	a := &fakeAnalyzer{analysis: storyboard.Analysis{Storyboard: beats("a")}}
	f := newFixture(t, a)
	require.NoError(t, f.gen.Process(context.Background(), ingest(t, f.gen)))
	id, _ := f.mgr.SceneID(0)

	s, err := f.gen.AttachVisual(context.Background(), id, "slides.pdf", "", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, storyboard.VisualImage, s.Scenes[0].Visual.Kind)
	assert.Equal(t, "application/pdf", s.Scenes[0].Visual.MimeType)

	s, err = f.gen.AttachVisual(context.Background(), id, "clip.mp4", "video/mp4", strings.NewReader("mp4"))
	require.NoError(t, err)
	assert.Equal(t, storyboard.VisualVideo, s.Scenes[0].Visual.Kind)

	_, err = f.gen.AttachVisual(context.Background(), id, "notes.txt", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedVisual)
}

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "audio/wav", DetectMIME("a.wav", "audio/wav; codecs=1"))
	assert.Equal(t, "image/png", DetectMIME("a.PNG", "application/octet-stream"))
	assert.Equal(t, "application/octet-stream", DetectMIME("blob", ""))
}

func TestFillPendingOnlyTouchesPendingScenes(t *testing.T) {
	f := newFixture(t, &fakeAnalyzer{})
	f.mgr.Replace(context.Background(), &storyboard.Session{
		Analysis: storyboard.Analysis{Title: "Imported"},
		Scenes: []storyboard.Scene{
			{ID: "a", VisualPrompt: "a", Visual: storyboard.Visual{Kind: storyboard.VisualImage, Path: "kept.png", UserProvided: true}},
			{ID: "b", VisualPrompt: "b", StartTime: 1, Visual: storyboard.Visual{Kind: storyboard.VisualPending}},
		},
	})

	require.NoError(t, f.gen.FillPending(context.Background()))

	s := f.mgr.Snapshot()
	assert.Equal(t, int32(1), f.images.calls.Load())
	assert.Equal(t, "kept.png", s.Scenes[0].Visual.Path)
	assert.Equal(t, storyboard.VisualImage, s.Scenes[1].Visual.Kind)
	assert.False(t, s.Scenes[1].Visual.UserProvided)
}

func TestSubmitRunsInBackground(t *testing.T) {
	a := &fakeAnalyzer{analysis: storyboard.Analysis{Storyboard: beats("a", "b")}}
	f := newFixture(t, a)
	f.images.block = make(chan struct{})

	require.NoError(t, f.gen.Submit(context.Background(), ingest(t, f.gen)))
	assert.NotEqual(t, storyboard.PhaseIdle, f.mgr.Snapshot().Phase)

	// A second upload cannot start while the first is running.
	err := f.gen.Submit(context.Background(), ingest(t, f.gen))
	assert.ErrorIs(t, err, storyboard.ErrInvalidTransition)

	close(f.images.block)
	assert.Eventually(t, func() bool {
		return f.mgr.Snapshot().Phase == storyboard.PhaseComplete
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRegenerateAsyncMarksSceneFirst(t *testing.T) {
	a := &fakeAnalyzer{analysis: storyboard.Analysis{Storyboard: beats("a")}}
	f := newFixture(t, a)
	require.NoError(t, f.gen.Process(context.Background(), ingest(t, f.gen)))
	id, _ := f.mgr.SceneID(0)
	before := f.mgr.Snapshot().Scenes[0].Visual.Path

	f.images.block = make(chan struct{})
	require.NoError(t, f.gen.RegenerateAsync(context.Background(), id))
	sc := f.mgr.Snapshot().Scenes[0]
	assert.True(t, sc.Regenerating)
	assert.Equal(t, before, sc.Visual.Path)

	close(f.images.block)
	assert.Eventually(t, func() bool {
		sc := f.mgr.Snapshot().Scenes[0]
		return !sc.Regenerating && sc.Visual.Path != before
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, f.gen.RegenerateAsync(context.Background(), "missing"), storyboard.ErrSceneNotFound)
}

// gatedAnalyzer holds the first lecture's analysis until release is closed.
type gatedAnalyzer struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAnalyzer) Analyze(_ context.Context, _ []byte, _ string) (storyboard.Analysis, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
		return storyboard.Analysis{Title: "OLD", Storyboard: beats("o1", "o2", "o3", "o4")}, nil
	}
	return storyboard.Analysis{Title: "NEW", Storyboard: beats("n1", "n2")}, nil
}

func TestResetDuringAnalysisLeavesNextUploadAlone(t *testing.T) {
	a := &gatedAnalyzer{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, &fakeAnalyzer{})
	f.gen.analyzer = a
	ctx := context.Background()

	first, err := f.gen.Ingest("first.mp3", "", strings.NewReader("a"))
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- f.gen.Process(ctx, first) }()
	<-a.entered

	require.NoError(t, f.mgr.Reset(ctx))
	second, err := f.gen.Ingest("second.mp3", "", strings.NewReader("b"))
	require.NoError(t, err)
	require.NoError(t, f.gen.Process(ctx, second))

	close(a.release)
	assert.ErrorIs(t, <-done, session.ErrStaleSession)

	s := f.mgr.Snapshot()
	assert.Equal(t, storyboard.PhaseComplete, s.Phase)
	assert.Equal(t, "second.mp3", s.Media.Name)
	assert.Equal(t, "NEW", s.Analysis.Title)
	assert.Len(t, s.Scenes, 2)
}
