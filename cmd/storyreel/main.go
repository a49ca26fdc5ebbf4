package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ivlev/storyreel/internal/analyzer"
	"github.com/ivlev/storyreel/internal/collage"
	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/director"
	"github.com/ivlev/storyreel/internal/engine"
	"github.com/ivlev/storyreel/internal/genai"
	"github.com/ivlev/storyreel/internal/generator"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/server"
	"github.com/ivlev/storyreel/internal/session"
	"github.com/ivlev/storyreel/internal/source"
	"github.com/ivlev/storyreel/internal/store"
	"github.com/ivlev/storyreel/internal/storyboard"
	"github.com/ivlev/storyreel/internal/system"
	"github.com/ivlev/storyreel/internal/video"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const storyboardDir = "storyboards"

type options struct {
	serve      bool
	input      string
	output     string
	collage    string
	storyboard string
	config     string
	preset     string
	encoder    string
	quality    int
	focus      string
}

func main() {
	var opts options
	flag.BoolVar(&opts.serve, "serve", false, "Run the HTTP API instead of a one-shot export")
	flag.StringVar(&opts.input, "input", "", "Lecture audio or video (default: newest file in input/)")
	flag.StringVar(&opts.output, "output", "", "Video path (default: output/<title>_<time>.mp4)")
	flag.StringVar(&opts.collage, "collage", "", "Also write the storyboard collage PNG here")
	flag.StringVar(&opts.storyboard, "storyboard", "", "Storyboard YAML: imported when it exists, written after generation otherwise. \"latest\" imports the newest file in storyboards/, \"new\" saves to a fresh one")
	flag.StringVar(&opts.config, "config", "", "YAML config file")
	flag.StringVar(&opts.preset, "preset", "", "Aspect preset: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	flag.StringVar(&opts.encoder, "encoder", "auto", "H.264 encoder: auto, libx264, h264_videotoolbox, h264_nvenc")
	flag.IntVar(&opts.quality, "quality", 0, "Video quality (0 = encoder default; x264 CRF, VideoToolbox bitrate = Q*100kbit/s)")
	flag.StringVar(&opts.focus, "focus", "edge", "Focal point detection: edge or center")
	flag.Parse()

	cfg, err := config.Load(opts.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Config error: %v\n", err)
		os.Exit(1)
	}
	if opts.preset != "" {
		if err := cfg.ApplyPreset(opts.preset); err != nil {
			fmt.Fprintf(os.Stderr, "[-] %v\n", err)
			os.Exit(1)
		}
	}
	cfg.BuildVersion = version

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[-] Logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, storyboard.ErrExportCancelled) {
			fmt.Println("[!] Interrupted")
			os.Exit(130)
		}
		log.Error("storyreel failed", "error", err)
		fmt.Fprintf(os.Stderr, "[-] %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Config
	assets   *store.Assets
	mgr      *session.Manager
	gen      *generator.Generator
	bitmaps  *source.Bitmaps
	exporter *engine.Exporter
	collage  *collage.Builder
}

func run(ctx context.Context, cfg *config.Config, opts options, log *logger.Logger) error {
	system.InitResourceLimits(log)

	for _, d := range []string{"input", cfg.Export.OutputDir, cfg.Storage.DataDir} {
		os.MkdirAll(d, 0o755)
	}

	switch opts.encoder {
	case "auto":
		cfg.Export.VideoEncoder = system.GetBestH264Encoder(ctx)
		if cfg.Export.VideoEncoder != "libx264" {
			fmt.Printf("[*] Hardware encoder detected: %s\n", cfg.Export.VideoEncoder)
		}
	case "":
	default:
		cfg.Export.VideoEncoder = opts.encoder
	}
	if opts.quality > 0 {
		cfg.Export.Quality = opts.quality
	}
	if cfg.Export.Quality == 0 {
		cfg.Export.Quality = system.DefaultQuality(cfg.Export.VideoEncoder)
	}

	a, err := wire(ctx, cfg, opts, log)
	if err != nil {
		return err
	}

	if opts.serve {
		if err := a.mgr.Restore(ctx); err != nil {
			log.Warn("previous session not restored", "error", err)
		}
		jobs := engine.NewJobs(ctx, a.exporter, cfg.Export.OutputDir, log)
		srv := server.New(ctx, server.Deps{
			Config:    cfg,
			Manager:   a.mgr,
			Generator: a.gen,
			Jobs:      jobs,
			Bitmaps:   a.bitmaps,
			Collage:   a.collage,
			Assets:    a.assets,
			Log:       log,
		})
		return srv.Run(ctx)
	}
	return a.headless(ctx, opts)
}

func wire(ctx context.Context, cfg *config.Config, opts options, log *logger.Logger) (*app, error) {
	assets, err := store.NewAssets(filepath.Join(cfg.Storage.DataDir, "assets"))
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Storage, assets)
	if err != nil {
		return nil, err
	}
	mgr := session.NewManager(st, log)

	an, images, err := genai.New(ctx, cfg.GenAI, log)
	if err != nil {
		return nil, err
	}

	focus, err := analyzer.NewFocuser(opts.focus)
	if err != nil {
		return nil, err
	}
	bitmaps := source.NewBitmaps(4*runtime.NumCPU(), focus, log)

	exporter := engine.NewExporter(cfg.Export, bitmaps, video.NewFFmpegEncoder, log)
	exporter.BuildVersion = cfg.BuildVersion

	return &app{
		cfg:      cfg,
		assets:   assets,
		mgr:      mgr,
		gen:      generator.New(mgr, an, images, assets, cfg.GenAI, log),
		bitmaps:  bitmaps,
		exporter: exporter,
		collage:  collage.New(cfg.Collage, bitmaps, log),
	}, nil
}

// headless runs upload, analysis, generation and export once from the
// command line.
func (a *app) headless(ctx context.Context, opts options) error {
	input := opts.input
	if input == "" {
		latest, err := system.FindLatestMedia("input")
		if err != nil {
			return fmt.Errorf("%w. Put a lecture into input/", err)
		}
		input = latest
		fmt.Printf("[*] Selected file: %s\n", input)
	}

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	media, err := a.gen.Ingest(filepath.Base(input), "", f)
	f.Close()
	if err != nil {
		return err
	}

	switch opts.storyboard {
	case "latest":
		latest, err := director.FindLatestScenario(storyboardDir)
		if err != nil {
			return err
		}
		opts.storyboard = latest
	case "new":
		opts.storyboard = director.GenerateScenarioPath(storyboardDir)
	}

	imported := false
	if opts.storyboard != "" {
		if _, err := os.Stat(opts.storyboard); err == nil {
			sc, err := director.ReadScenario(opts.storyboard)
			if err != nil {
				return err
			}
			next, err := sc.Session(media)
			if err != nil {
				return err
			}
			a.mgr.Replace(ctx, next)
			fmt.Printf("[*] Storyboard imported: %s (%d scenes)\n", opts.storyboard, len(next.Scenes))
			if err := a.gen.FillPending(ctx); err != nil {
				return err
			}
			imported = true
		}
	}
	if !imported {
		fmt.Printf("[*] Analyzing %s...\n", media.Name)
		if err := a.gen.Process(ctx, media); err != nil {
			return err
		}
	}

	snap := a.mgr.Snapshot()
	fmt.Printf("[*] %q: %d scenes, %d visuals ready\n", snap.Analysis.Title, len(snap.Scenes), snap.VisualsReady())

	if opts.storyboard != "" && !imported {
		if err := director.WriteScenario(director.FromSession(snap), opts.storyboard); err != nil {
			return err
		}
		fmt.Printf("[*] Storyboard saved: %s\n", opts.storyboard)
	}

	if opts.collage != "" {
		png, err := a.collage.Render(ctx, snap)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.collage, png, 0o644); err != nil {
			return err
		}
		fmt.Printf("[*] Collage saved: %s\n", opts.collage)
	}

	output := opts.output
	if output == "" {
		stamp := time.Now().Format("2006-01-02_15-04-05")
		output = filepath.Join(a.cfg.Export.OutputDir, fmt.Sprintf("%s_%s.mp4", snap.ExportName(), stamp))
	}

	last := -1
	res, err := a.exporter.Export(ctx, snap, output, func(p float64) {
		if pct := int(p * 100); pct/5 != last/5 {
			last = pct
			fmt.Printf("\r[>] Rendering: %3d%%", pct)
		}
	}, nil)
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("[+++] Done! %s (%d frames, %.1fs of video in %s)\n", res.Path, res.Frames, res.Duration, res.Elapsed.Round(time.Millisecond))
	return nil
}
