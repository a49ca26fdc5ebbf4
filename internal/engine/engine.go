package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/effects"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/renderer"
	"github.com/ivlev/storyreel/internal/source"
	"github.com/ivlev/storyreel/internal/storyboard"
	"github.com/ivlev/storyreel/internal/system"
	"github.com/ivlev/storyreel/internal/video"
)

// AudioSource is the lecture soundtrack as the exporter needs it.
type AudioSource interface {
	Duration(ctx context.Context) (float64, error)
	OpenPCMStream(ctx context.Context) (io.ReadCloser, error)
}

// BitmapSource resolves scene visuals to pictures.
type BitmapSource interface {
	Bitmap(ctx context.Context, v storyboard.Visual) (source.Bitmap, bool)
}

type Result struct {
	Path     string
	Frames   int
	Duration float64
	Elapsed  time.Duration
}

// Exporter renders a session to a video file frame by frame.
type Exporter struct {
	cfg        config.ExportConfig
	bitmaps    BitmapSource
	openAudio  func(path string) AudioSource
	newEncoder video.Factory
	log        *logger.Logger

	BuildVersion string
}

func NewExporter(cfg config.ExportConfig, bitmaps BitmapSource, newEncoder video.Factory, log *logger.Logger) *Exporter {
	return &Exporter{
		cfg:     cfg,
		bitmaps: bitmaps,
		openAudio: func(path string) AudioSource {
			return source.NewMedia(path, cfg.SampleRate, cfg.Channels)
		},
		newEncoder: newEncoder,
		log:        log.With("service", "exporter"),
	}
}

// SetAudioOpener replaces how the lecture audio is opened for an export.
func (e *Exporter) SetAudioOpener(open func(path string) AudioSource) {
	e.openAudio = open
}

// FrameCount is the number of frames covering duration at fps.
func FrameCount(duration float64, fps int) int {
	return int(math.Round(duration * float64(fps)))
}

// SamplesForFrame splits the audio so the first i+1 frames always carry
// round((i+1)*rate/fps) samples in total. Audio length then equals video
// length exactly even when rate/fps is not an integer.
func SamplesForFrame(i, sampleRate, fps int) int {
	at := func(n int) int {
		return int(math.Round(float64(n) * float64(sampleRate) / float64(fps)))
	}
	return at(i+1) - at(i)
}

// ExportDuration is the media duration, or the last scene start plus tail
// when the media duration is unknown.
func (e *Exporter) ExportDuration(ctx context.Context, audio AudioSource, scenes []storyboard.Scene) float64 {
	d, err := audio.Duration(ctx)
	if err == nil && d > 0 {
		return d
	}
	fallback := scenes[len(scenes)-1].StartTime + e.cfg.TailSeconds
	e.log.Warn("media duration unknown, using last scene + tail", "error", err, "duration", fallback)
	return fallback
}

// Export renders sess into outputPath. onProgress receives values in [0,1];
// isCancelled is polled together with ctx every progress_every frames.
// A cancelled export returns ErrExportCancelled and leaves no file behind.
func (e *Exporter) Export(ctx context.Context, sess *storyboard.Session, outputPath string, onProgress func(float64), isCancelled func() bool) (*Result, error) {
	if !sess.HasScenes() {
		return nil, fmt.Errorf("%w: session has no scenes", storyboard.ErrExport)
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	if isCancelled == nil {
		isCancelled = func() bool { return false }
	}

	startTime := time.Now()
	scenes := sess.Scenes
	fps := e.cfg.FPS
	audio := e.openAudio(sess.Media.Path)

	duration := e.ExportDuration(ctx, audio, scenes)
	frames := FrameCount(duration, fps)
	if frames <= 0 {
		return nil, fmt.Errorf("%w: nothing to render (duration %.3fs)", storyboard.ErrExport, duration)
	}

	effect, err := effects.NewEffect(e.cfg.Motion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storyboard.ErrExport, err)
	}
	comp, err := renderer.NewCompositor(effect)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storyboard.ErrExport, err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", storyboard.ErrExport, err)
	}

	pcm, err := audio.OpenPCMStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storyboard.ErrExport, err)
	}
	defer pcm.Close()

	params := e.cfg.EncodeParams(outputPath)
	params.FPS = fps
	enc, err := e.newEncoder(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storyboard.ErrExport, err)
	}

	e.log.Info("export started", "frames", frames, "duration", duration, "size", fmt.Sprintf("%dx%d", params.Width, params.Height), "fps", fps, "encoder", params.VideoEncoder)

	rect := image.Rect(0, 0, params.Width, params.Height)
	frameBytes := 2 * params.Channels
	audioBuf := make([]byte, (params.SampleRate/fps+2)*frameBytes)
	every := max(1, e.cfg.ProgressEvery)

	for i := 0; i < frames; i++ {
		if i%every == 0 {
			onProgress(float64(i) / float64(frames))
			if isCancelled() || ctx.Err() != nil {
				enc.Abort()
				e.log.Info("export cancelled", "frame", i, "frames", frames)
				return nil, storyboard.ErrExportCancelled
			}
			runtime.Gosched()
		}

		t := float64(i) / float64(fps)
		spec := e.frameSpec(ctx, scenes, t, duration)

		frame := system.GetImage(rect)
		comp.Render(frame, spec)

		chunk := audioBuf[:SamplesForFrame(i, params.SampleRate, fps)*frameBytes]
		if _, err := io.ReadFull(pcm, chunk); err != nil {
			system.PutImage(frame)
			enc.Abort()
			return nil, fmt.Errorf("%w: %w", storyboard.ErrExport, err)
		}

		err := enc.WriteFrame(frame, chunk)
		system.PutImage(frame)
		if err != nil {
			enc.Abort()
			return nil, fmt.Errorf("%w: %v", storyboard.ErrExport, err)
		}
	}

	path, err := enc.Close()
	if err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("%w: %v", storyboard.ErrExport, err)
	}
	onProgress(1)

	res := &Result{Path: path, Frames: frames, Duration: duration, Elapsed: time.Since(startTime)}
	e.log.Info("export complete", "path", path, "frames", frames, "took", res.Elapsed)
	if e.cfg.ShowStats {
		e.report(ctx, sess, res)
	}
	return res, nil
}

// frameSpec resolves what is on screen at t: the active scene, its motion
// phase and, inside the crossfade window, the outgoing scene beneath it.
func (e *Exporter) frameSpec(ctx context.Context, scenes []storyboard.Scene, t, end float64) renderer.FrameSpec {
	idx := storyboard.ActiveSceneIndex(scenes, t)
	spec := renderer.FrameSpec{
		Layer:    e.layer(ctx, scenes, idx, t, end),
		Caption:  scenes[idx].Caption,
		Captions: e.cfg.Captions,
	}

	if idx > 0 && e.cfg.Crossfade > 0 {
		elapsed := t - scenes[idx].StartTime
		if elapsed < e.cfg.Crossfade {
			prev := e.layer(ctx, scenes, idx-1, t, end)
			spec.Previous = &prev
			spec.Mix = renderer.CrossfadeMix(elapsed, e.cfg.Crossfade)
		}
	}
	return spec
}

func (e *Exporter) layer(ctx context.Context, scenes []storyboard.Scene, i int, t, end float64) renderer.Layer {
	l := renderer.Layer{SceneIndex: i, Phase: storyboard.AnimationPhase(scenes, i, t, end)}
	if bm, ok := e.bitmaps.Bitmap(ctx, scenes[i].Visual); ok {
		l.Bitmap = bm.Image
		l.Focus = bm.Focus
	}
	return l
}

func (e *Exporter) report(ctx context.Context, sess *storyboard.Session, res *Result) {
	snap := system.Snapshot(ctx)
	fps := float64(res.Frames) / res.Elapsed.Seconds()
	report := fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Frames: %d (%.2fs of video)\n"+
			"Effective FPS: %.2f\n"+
			"Resources: %s\n"+
			"----------------------------\n",
		e.BuildVersion, res.Elapsed.Seconds(), res.Frames, res.Duration, fps, snap,
	)
	fmt.Print(report)

	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Scenes: %d | Frames: %d | Total: %.2fs | FPS: %.2f | %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		e.BuildVersion,
		filepath.Base(sess.Media.Name),
		len(sess.Scenes),
		res.Frames,
		res.Elapsed.Seconds(),
		fps,
		snap,
	)
	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		e.log.Warn("could not write benchmark.log", "error", err)
		return
	}
	defer f.Close()
	f.WriteString(logEntry)
}

// IsCancelled reports whether err is a user cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, storyboard.ErrExportCancelled)
}
