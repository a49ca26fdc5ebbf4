package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/storyreel/internal/session"
	"github.com/ivlev/storyreel/internal/storyboard"
)

type sessionView struct {
	*storyboard.Session
	Ready int `json:"ready"`
	Total int `json:"total"`
}

func view(s *storyboard.Session) sessionView {
	return sessionView{Session: s, Ready: s.VisualsReady(), Total: len(s.Scenes)}
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, view(s.mgr.Snapshot()))
}

// uploadSession replaces any settled session with a new upload and starts
// analysis in the background.
func (s *Server) uploadSession(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadMB<<20)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.respondError(c, wrapUploadErr(err))
		return
	}
	defer file.Close()

	switch s.mgr.Snapshot().Phase {
	case storyboard.PhaseAnalyzing, storyboard.PhaseGenerating:
		s.respondError(c, fmt.Errorf("%w: a lecture is already being processed", storyboard.ErrInvalidTransition))
		return
	case storyboard.PhaseComplete, storyboard.PhaseError:
		if err := s.mgr.Reset(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
	}

	media, err := s.gen.Ingest(header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.gen.Submit(s.bg, media); err != nil {
		s.respondError(c, err)
		return
	}
	s.log.Info("lecture uploaded", "name", media.Name, "mime", media.MimeType)
	c.JSON(http.StatusAccepted, view(s.mgr.Snapshot()))
}

func (s *Server) resetSession(c *gin.Context) {
	prev := s.mgr.Snapshot()
	if err := s.mgr.Reset(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	for _, sc := range prev.Scenes {
		s.forget(sc.Visual.Path)
	}
	c.Status(http.StatusNoContent)
}

// forgetter is a bitmap cache that can drop decoded files.
type forgetter interface {
	Forget(path string)
}

func (s *Server) forget(path string) {
	if f, ok := s.bitmaps.(forgetter); ok && path != "" {
		f.Forget(path)
	}
}

func (s *Server) sessionMedia(c *gin.Context) {
	snap := s.mgr.Snapshot()
	if snap.Media.Path == "" {
		s.respondError(c, storyboard.ErrNoSession)
		return
	}
	serveAsset(c, snap.Media.Path, snap.Media.MimeType)
}

type scenePatch struct {
	Caption      *string `json:"caption"`
	VisualPrompt *string `json:"visual_prompt"`
	// StartTime is "mm:ss" or plain seconds.
	StartTime *string `json:"start_time"`
}

func (s *Server) patchScene(c *gin.Context) {
	id, err := s.sceneID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req scenePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	var patches []session.Patch
	if req.Caption != nil {
		patches = append(patches, session.SetCaption(*req.Caption))
	}
	if req.VisualPrompt != nil {
		patches = append(patches, session.SetPrompt(*req.VisualPrompt))
	}
	if req.StartTime != nil {
		sec, err := storyboard.ParseTimestamp(*req.StartTime)
		if err != nil {
			s.respondError(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		patches = append(patches, session.SetStartTime(sec))
	}
	if len(patches) == 0 {
		s.respondError(c, fmt.Errorf("%w: nothing to change", errBadRequest))
		return
	}

	snap := s.mgr.Snapshot()
	for _, p := range patches {
		if snap, err = s.mgr.Apply(c.Request.Context(), id, p); err != nil {
			s.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, view(snap))
}

func (s *Server) uploadVisual(c *gin.Context) {
	id, err := s.sceneID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadMB<<20)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		s.respondError(c, wrapUploadErr(err))
		return
	}
	defer file.Close()

	prev := s.mgr.Snapshot()
	snap, err := s.gen.AttachVisual(c.Request.Context(), id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if i := prev.SceneIndex(id); i >= 0 {
		s.forget(prev.Scenes[i].Visual.Path)
	}
	c.JSON(http.StatusOK, view(snap))
}

func (s *Server) regenerateScene(c *gin.Context) {
	id, err := s.sceneID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.gen.RegenerateAsync(s.bg, id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view(s.mgr.Snapshot()))
}

func (s *Server) sceneVisual(c *gin.Context) {
	idx, err := sceneIndex(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	snap := s.mgr.Snapshot()
	if idx >= len(snap.Scenes) {
		s.respondError(c, fmt.Errorf("%w: index %d", storyboard.ErrSceneNotFound, idx))
		return
	}
	v := snap.Scenes[idx].Visual
	if !v.Usable() {
		s.respondError(c, fmt.Errorf("%w: scene %d has no visual yet", storyboard.ErrSceneNotFound, idx))
		return
	}
	serveAsset(c, v.Path, v.MimeType)
}

func sceneIndex(c *gin.Context) (int, error) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("%w: scene index %q", errBadRequest, c.Param("index"))
	}
	return idx, nil
}

// sceneID resolves the display index once so later edits follow the scene
// even if a start time change re-sorts the list.
func (s *Server) sceneID(c *gin.Context) (string, error) {
	idx, err := sceneIndex(c)
	if err != nil {
		return "", err
	}
	return s.mgr.SceneID(idx)
}

func serveAsset(c *gin.Context, path, mimeType string) {
	if mimeType != "" {
		c.Header("Content-Type", mimeType)
	}
	c.File(path)
}

func wrapUploadErr(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return fmt.Errorf("%w: expected a multipart field \"file\": %v", errBadRequest, err)
}

// sessionEvents streams session changes as server-sent events, starting
// with the current state.
func (s *Server) sessionEvents(c *gin.Context) {
	events, cancel := s.mgr.Subscribe()
	defer cancel()

	snap := s.mgr.Snapshot()
	c.SSEvent(string(session.EventPhase), session.Event{
		Type:  session.EventPhase,
		Phase: snap.Phase,
		Ready: snap.VisualsReady(),
		Total: len(snap.Scenes),
		Error: snap.Error,
	})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		return streamEvent(ctx, c, events)
	})
}

func streamEvent(ctx context.Context, c *gin.Context, events <-chan session.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case ev, ok := <-events:
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Type), ev)
		return true
	}
}
