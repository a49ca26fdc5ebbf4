package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/storyreel/internal/engine"
	"github.com/ivlev/storyreel/internal/generator"
	"github.com/ivlev/storyreel/internal/session"
	"github.com/ivlev/storyreel/internal/storyboard"
)

var errBadRequest = errors.New("bad request")

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// statusFor is the one place domain errors become HTTP statuses.
func statusFor(err error) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, errBadRequest), errors.Is(err, session.ErrInvalidPatch):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, generator.ErrUnsupportedVisual):
		return http.StatusUnsupportedMediaType, "unsupported_media"
	case errors.Is(err, storyboard.ErrMediaRead):
		return http.StatusBadRequest, "media_read"
	case errors.Is(err, storyboard.ErrSceneNotFound), errors.Is(err, engine.ErrJobNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storyboard.ErrNoSession):
		return http.StatusNotFound, "no_session"
	case errors.Is(err, storyboard.ErrInvalidTransition):
		return http.StatusConflict, "invalid_phase"
	case errors.Is(err, storyboard.ErrJobRunning):
		return http.StatusConflict, "export_running"
	case errors.Is(err, storyboard.ErrExport):
		return http.StatusConflict, "export_not_ready"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: err.Error(), Code: code}})
}
