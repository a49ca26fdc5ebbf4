package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/storyreel/internal/director"
	"github.com/ivlev/storyreel/internal/storyboard"
)

func (s *Server) startExport(c *gin.Context) {
	st, err := s.jobs.Start(s.mgr.Snapshot())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (s *Server) exportStatus(c *gin.Context) {
	st, err := s.jobs.Status(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelExport(c *gin.Context) {
	if err := s.jobs.Cancel(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) exportFile(c *gin.Context) {
	path, name, err := s.jobs.Result(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Type", "video/mp4")
	c.FileAttachment(path, name)
}

func (s *Server) getCollage(c *gin.Context) {
	snap := s.mgr.Snapshot()
	data, err := s.collage.Render(c.Request.Context(), snap)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.ExportName()+"_collage.png"))
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) getStoryboard(c *gin.Context) {
	snap := s.mgr.Snapshot()
	if !snap.HasScenes() {
		s.respondError(c, storyboard.ErrNoSession)
		return
	}
	data, err := director.Marshal(director.FromSession(snap))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.ExportName()+".yaml"))
	c.Data(http.StatusOK, "application/yaml", data)
}

// importStoryboard replaces the scenes of the current lecture with an
// edited storyboard document. Slides without a visual are illustrated in
// the background.
func (s *Server) importStoryboard(c *gin.Context) {
	snap := s.mgr.Snapshot()
	if snap.Media.Path == "" {
		s.respondError(c, storyboard.ErrNoSession)
		return
	}
	switch snap.Phase {
	case storyboard.PhaseAnalyzing, storyboard.PhaseGenerating:
		s.respondError(c, fmt.Errorf("%w: wait for generation to finish", storyboard.ErrInvalidTransition))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 4<<20)
	data, err := c.GetRawData()
	if err != nil {
		s.respondError(c, wrapUploadErr(err))
		return
	}
	sc, err := director.Unmarshal(data)
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	next, err := sc.Session(snap.Media)
	if err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	// Only files this server stored may be referenced over HTTP.
	for i := range next.Scenes {
		if v := next.Scenes[i].Visual; v.Usable() && !s.assets.Owns(v.Path) {
			next.Scenes[i].Visual = storyboard.Visual{Kind: storyboard.VisualPending}
		}
	}

	s.mgr.Replace(c.Request.Context(), next)
	go func() {
		if err := s.gen.FillPending(s.bg); err != nil {
			s.log.Warn("filling imported storyboard failed", "error", err)
		}
	}()
	c.JSON(http.StatusOK, view(s.mgr.Snapshot()))
}
