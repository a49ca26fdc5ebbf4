package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/storyreel/internal/collage"
	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/engine"
	"github.com/ivlev/storyreel/internal/generator"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/session"
	"github.com/ivlev/storyreel/internal/store"
	"github.com/ivlev/storyreel/internal/system"
)

// Deps are the services the HTTP API fronts.
type Deps struct {
	Config    *config.Config
	Manager   *session.Manager
	Generator *generator.Generator
	Jobs      *engine.Jobs
	Bitmaps   engine.BitmapSource
	Collage   *collage.Builder
	Assets    *store.Assets
	Log       *logger.Logger
}

type Server struct {
	cfg     *config.Config
	mgr     *session.Manager
	gen     *generator.Generator
	jobs    *engine.Jobs
	bitmaps engine.BitmapSource
	collage *collage.Builder
	assets  *store.Assets
	log     *logger.Logger

	// bg outlives requests; analysis and regeneration run on it.
	bg     context.Context
	probe  func(ctx context.Context, path string) (float64, error)
	engine *gin.Engine
}

// New wires the router. bg bounds background work started by requests.
func New(bg context.Context, d Deps) *Server {
	s := &Server{
		cfg:     d.Config,
		mgr:     d.Manager,
		gen:     d.Generator,
		jobs:    d.Jobs,
		bitmaps: d.Bitmaps,
		collage: d.Collage,
		assets:  d.Assets,
		log:     d.Log.With("service", "http"),
		bg:      bg,
		probe:   system.ProbeDuration,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
