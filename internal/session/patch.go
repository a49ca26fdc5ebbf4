package session

import (
	"errors"
	"fmt"
	"math"

	"github.com/ivlev/storyreel/internal/storyboard"
)

// ErrStaleResult is returned when a generation result arrives for a token
// that has since been superseded by an upload or another dispatch.
var ErrStaleResult = errors.New("stale generation result")

// ErrInvalidPatch rejects an edit with out-of-range values.
var ErrInvalidPatch = errors.New("invalid scene edit")

// ErrStaleSession is returned to a pipeline whose session was reset or
// replaced while it ran.
var ErrStaleSession = errors.New("session replaced while processing")

// ErrUserVisual stops an automatic dispatch for a scene the user has
// already given a visual.
var ErrUserVisual = errors.New("scene has a user-provided visual")

// Patch is one mutation of a single scene. All scene edits go through
// Manager.Apply so ordering, tokens and persistence stay in one place.
type Patch interface {
	apply(sc *storyboard.Scene) (resort bool, err error)
}

type SetCaption string

func (p SetCaption) apply(sc *storyboard.Scene) (bool, error) {
	sc.Caption = string(p)
	return false, nil
}

type SetPrompt string

func (p SetPrompt) apply(sc *storyboard.Scene) (bool, error) {
	sc.VisualPrompt = string(p)
	return false, nil
}

// SetStartTime moves a scene; the list is re-sorted afterwards.
type SetStartTime float64

func (p SetStartTime) apply(sc *storyboard.Scene) (bool, error) {
	v := float64(p)
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return false, fmt.Errorf("%w: start time must be a non-negative number", ErrInvalidPatch)
	}
	sc.StartTime = v
	return true, nil
}

// UploadVisual replaces the scene visual with a user asset. It always wins
// over generation, including results still in flight.
type UploadVisual struct {
	Path     string
	MimeType string
	Kind     storyboard.VisualKind
}

func (p UploadVisual) apply(sc *storyboard.Scene) (bool, error) {
	if p.Kind != storyboard.VisualImage && p.Kind != storyboard.VisualVideo {
		return false, fmt.Errorf("%w: uploaded visual must be an image or a video", ErrInvalidPatch)
	}
	sc.Token++
	sc.Regenerating = false
	sc.Visual = storyboard.Visual{Kind: p.Kind, Path: p.Path, MimeType: p.MimeType, UserProvided: true}
	return false, nil
}

// BeginGeneration takes a fresh token for a dispatch. Manual marks a user
// requested regeneration, which keeps the current visual until it settles.
type BeginGeneration struct {
	Manual bool
}

func (p BeginGeneration) apply(sc *storyboard.Scene) (bool, error) {
	if !p.Manual && sc.Visual.UserProvided {
		return false, ErrUserVisual
	}
	sc.Token++
	sc.Regenerating = p.Manual
	if !p.Manual {
		sc.Visual = storyboard.Visual{Kind: storyboard.VisualPending}
	}
	return false, nil
}

// GenerationResult lands a generated image if Token is still current.
type GenerationResult struct {
	Token    uint64
	Path     string
	MimeType string
}

func (p GenerationResult) apply(sc *storyboard.Scene) (bool, error) {
	if sc.Token != p.Token {
		return false, ErrStaleResult
	}
	sc.Regenerating = false
	sc.Visual = storyboard.Visual{Kind: storyboard.VisualImage, Path: p.Path, MimeType: p.MimeType}
	return false, nil
}

// GenerationFailed settles a dispatch that produced nothing. A failed manual
// regeneration leaves the previous visual in place.
type GenerationFailed struct {
	Token uint64
}

func (p GenerationFailed) apply(sc *storyboard.Scene) (bool, error) {
	if sc.Token != p.Token {
		return false, ErrStaleResult
	}
	manual := sc.Regenerating
	sc.Regenerating = false
	if !manual || !sc.Visual.Usable() {
		sc.Visual = storyboard.Visual{Kind: storyboard.VisualFailed}
	}
	return false, nil
}
