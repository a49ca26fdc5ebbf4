package director

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ivlev/storyreel/internal/generator"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// FromSession captures the session as a storyboard document. Failed visuals
// are written without an input so an import generates them again.
func FromSession(s *storyboard.Session) *Scenario {
	sc := &Scenario{
		Version:  Version,
		Media:    s.Media.Name,
		Analysis: s.Analysis,
		Slides:   make([]Slide, len(s.Scenes)),
	}
	sc.Analysis.Storyboard = nil
	for i, scene := range s.Scenes {
		slide := Slide{
			ID:           scene.ID,
			Timestamp:    scene.StartTime,
			Caption:      scene.Caption,
			VisualPrompt: scene.VisualPrompt,
		}
		if scene.Visual.Usable() {
			slide.Input = scene.Visual.Path
			slide.MimeType = scene.Visual.MimeType
			slide.UserProvided = scene.Visual.UserProvided
		}
		sc.Slides[i] = slide
	}
	return sc
}

// Session rebuilds a complete session around media. Slides whose input file
// is missing come back pending.
func (sc *Scenario) Session(media storyboard.Media) (*storyboard.Session, error) {
	if sc.Version != "" && sc.Version != Version {
		return nil, fmt.Errorf("unsupported storyboard version %q", sc.Version)
	}
	if len(sc.Slides) == 0 {
		return nil, errors.New("storyboard has no slides")
	}

	s := &storyboard.Session{
		Media:    media,
		Analysis: sc.Analysis,
		Scenes:   make([]storyboard.Scene, len(sc.Slides)),
		Phase:    storyboard.PhaseComplete,
	}
	s.Analysis.Storyboard = nil

	seen := make(map[string]bool)
	for i, slide := range sc.Slides {
		if slide.Timestamp < 0 || math.IsNaN(slide.Timestamp) || math.IsInf(slide.Timestamp, 0) {
			return nil, fmt.Errorf("slide %d: invalid timestamp %v", i+1, slide.Timestamp)
		}
		id := slide.ID
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true

		s.Scenes[i] = storyboard.Scene{
			ID:           id,
			Caption:      slide.Caption,
			VisualPrompt: slide.VisualPrompt,
			StartTime:    slide.Timestamp,
			Visual:       visualFor(slide),
		}
	}
	storyboard.SortScenes(s.Scenes)
	return s, nil
}

func visualFor(slide Slide) storyboard.Visual {
	if slide.Input == "" {
		return storyboard.Visual{Kind: storyboard.VisualPending}
	}
	if _, err := os.Stat(slide.Input); err != nil {
		return storyboard.Visual{Kind: storyboard.VisualPending}
	}
	mimeType := generator.DetectMIME(slide.Input, slide.MimeType)
	kind := storyboard.VisualImage
	if strings.HasPrefix(mimeType, "video/") {
		kind = storyboard.VisualVideo
	}
	return storyboard.Visual{Kind: kind, Path: slide.Input, MimeType: mimeType, UserProvided: slide.UserProvided}
}
