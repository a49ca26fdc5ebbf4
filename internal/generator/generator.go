package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/genai"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/session"
	"github.com/ivlev/storyreel/internal/store"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// ErrUnsupportedVisual rejects uploads that are neither images, PDFs nor videos.
var ErrUnsupportedVisual = errors.New("unsupported visual type")

// Generator runs the upload -> analysis -> illustration pipeline against the
// session manager.
type Generator struct {
	mgr      *session.Manager
	analyzer genai.Analyzer
	images   genai.ImageGenerator
	assets   *store.Assets
	cfg      config.GenAIConfig
	log      *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func New(mgr *session.Manager, analyzer genai.Analyzer, images genai.ImageGenerator, assets *store.Assets, cfg config.GenAIConfig, log *logger.Logger) *Generator {
	return &Generator{
		mgr:      mgr,
		analyzer: analyzer,
		images:   images,
		assets:   assets,
		cfg:      cfg,
		log:      log.With("service", "generator"),
		sleep:    sleepCtx,
	}
}

// Ingest stores an uploaded lecture as an asset and describes it.
func (g *Generator) Ingest(filename, mimeType string, r io.Reader) (storyboard.Media, error) {
	path, err := g.assets.Put(filename, r)
	if err != nil {
		return storyboard.Media{}, fmt.Errorf("%w: %v", storyboard.ErrMediaRead, err)
	}
	return storyboard.Media{Name: filepath.Base(filename), Path: path, MimeType: DetectMIME(filename, mimeType)}, nil
}

// Process analyzes the media and illustrates every scene. Analysis failures
// move the session to the error phase; image failures stay per scene.
func (g *Generator) Process(ctx context.Context, media storyboard.Media) error {
	epoch, err := g.mgr.Start(media)
	if err != nil {
		return err
	}
	return g.run(ctx, epoch, media)
}

// Submit moves the session to analyzing and runs the rest of Process in the
// background. Only the phase transition can fail synchronously.
func (g *Generator) Submit(ctx context.Context, media storyboard.Media) error {
	epoch, err := g.mgr.Start(media)
	if err != nil {
		return err
	}
	go func() {
		if err := g.run(ctx, epoch, media); err != nil {
			g.log.Warn("pipeline stopped", "media", media.Name, "error", err)
		}
	}()
	return nil
}

// run drives one upload. epoch ties it to the session it started; once the
// session is reset or replaced every manager call refuses it.
func (g *Generator) run(ctx context.Context, epoch uint64, media storyboard.Media) error {
	data, err := os.ReadFile(media.Path)
	if err != nil {
		err = fmt.Errorf("%w: %v", storyboard.ErrMediaRead, err)
		g.mgr.Fail(epoch, err)
		return err
	}

	g.log.Info("analyzing media", "name", media.Name, "mime", media.MimeType, "bytes", len(data))
	analysis, err := g.analyzer.Analyze(ctx, data, media.MimeType)
	if err != nil {
		if !errors.Is(err, storyboard.ErrAnalysis) {
			err = fmt.Errorf("%w: %v", storyboard.ErrAnalysis, err)
		}
		g.mgr.Fail(epoch, err)
		return err
	}

	snap, err := g.mgr.SetAnalysis(epoch, analysis)
	if err != nil {
		return err
	}
	g.log.Info("storyboard ready", "title", snap.Analysis.Title, "scenes", len(snap.Scenes))

	ids := make([]string, len(snap.Scenes))
	for i, sc := range snap.Scenes {
		ids[i] = sc.ID
	}
	if err := g.generateAll(ctx, epoch, ids); err != nil {
		return err
	}
	return g.mgr.Complete(ctx, epoch)
}

// generateAll illustrates scenes in fixed-size batches with a pause between
// batches to stay under the image API rate limit.
func (g *Generator) generateAll(ctx context.Context, epoch uint64, ids []string) error {
	size := g.cfg.BatchSize
	if size <= 0 {
		size = 1
	}
	for start := 0; start < len(ids); start += size {
		if g.mgr.Epoch() != epoch {
			return session.ErrStaleSession
		}
		end := min(start+size, len(ids))

		var eg errgroup.Group
		for _, id := range ids[start:end] {
			eg.Go(func() error {
				g.generateScene(ctx, id, false)
				return nil
			})
		}
		eg.Wait()

		snap := g.mgr.Snapshot()
		g.log.Info("visuals progress", "ready", snap.VisualsReady(), "total", len(snap.Scenes))

		if end < len(ids) {
			if err := g.sleep(ctx, g.cfg.BatchPause); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// FillPending illustrates the scenes of an imported storyboard that have no
// visual yet.
func (g *Generator) FillPending(ctx context.Context) error {
	epoch := g.mgr.Epoch()
	var ids []string
	for _, sc := range g.mgr.Snapshot().Scenes {
		if sc.Visual.Kind == storyboard.VisualPending {
			ids = append(ids, sc.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return g.generateAll(ctx, epoch, ids)
}

// Regenerate requests a new illustration for one scene from its current prompt.
func (g *Generator) Regenerate(ctx context.Context, sceneID string) error {
	return g.generateScene(ctx, sceneID, true)
}

// RegenerateAsync dispatches a regeneration and waits for the image in the
// background. The scene shows as regenerating once this returns.
func (g *Generator) RegenerateAsync(ctx context.Context, sceneID string) error {
	sc, err := g.mgr.BeginGeneration(ctx, sceneID, true)
	if err != nil {
		return err
	}
	go func() {
		if err := g.finishScene(ctx, sc); err != nil {
			g.log.Warn("regeneration failed", "scene", sceneID, "error", err)
		}
	}()
	return nil
}

func (g *Generator) generateScene(ctx context.Context, id string, manual bool) error {
	sc, err := g.mgr.BeginGeneration(ctx, id, manual)
	if errors.Is(err, session.ErrUserVisual) {
		g.log.Debug("skipping scene with user visual", "scene", id)
		return nil
	}
	if err != nil {
		return err
	}
	return g.finishScene(ctx, sc)
}

// finishScene calls the image model for a dispatched scene and lands the
// result under the dispatch token.
func (g *Generator) finishScene(ctx context.Context, sc storyboard.Scene) error {
	id := sc.ID
	img, genErr := g.images.GenerateImage(ctx, sc.VisualPrompt)
	var path string
	if genErr == nil {
		path, genErr = g.assets.PutBytes(imageExt(img.MimeType), img.Data)
	}
	if genErr != nil {
		g.log.Warn("image generation failed", "scene", id, "error", genErr)
		if _, err := g.mgr.Apply(ctx, id, session.GenerationFailed{Token: sc.Token}); err != nil && !errors.Is(err, session.ErrStaleResult) {
			return err
		}
		if !errors.Is(genErr, storyboard.ErrImageGeneration) {
			genErr = fmt.Errorf("%w: %v", storyboard.ErrImageGeneration, genErr)
		}
		return genErr
	}

	_, err := g.mgr.Apply(ctx, id, session.GenerationResult{Token: sc.Token, Path: path, MimeType: img.MimeType})
	if errors.Is(err, session.ErrStaleResult) || errors.Is(err, storyboard.ErrSceneNotFound) {
		g.log.Debug("discarding superseded image", "scene", id)
		os.Remove(path)
		return nil
	}
	return err
}

// AttachVisual stores a user file and makes it the scene's visual. PDFs are
// shown as their first page.
func (g *Generator) AttachVisual(ctx context.Context, sceneID, filename, mimeType string, r io.Reader) (*storyboard.Session, error) {
	mimeType = DetectMIME(filename, mimeType)
	var kind storyboard.VisualKind
	switch {
	case strings.HasPrefix(mimeType, "image/"), mimeType == "application/pdf":
		kind = storyboard.VisualImage
	case strings.HasPrefix(mimeType, "video/"):
		kind = storyboard.VisualVideo
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVisual, mimeType)
	}

	path, err := g.assets.Put(filename, r)
	if err != nil {
		return nil, err
	}
	snap, err := g.mgr.Apply(ctx, sceneID, session.UploadVisual{Path: path, MimeType: mimeType, Kind: kind})
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return snap, nil
}

// mediaTypes covers lecture formats missing from Go's built-in table.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// DetectMIME trusts a declared type unless it is missing or generic.
func DetectMIME(filename, declared string) string {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return strings.Split(t, ";")[0]
	}
	return "application/octet-stream"
}

func imageExt(mimeType string) string {
	if ext := store.ExtensionFor(mimeType); ext != "" {
		return ext
	}
	return ".png"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
