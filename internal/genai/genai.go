package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// Analyzer turns lecture media into transcript, lesson plan and storyboard.
type Analyzer interface {
	Analyze(ctx context.Context, media []byte, mimeType string) (storyboard.Analysis, error)
}

// ImageGenerator renders one illustration for a visual prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

type Image struct {
	Data     []byte
	MimeType string
}

// New builds the analyzer and the image generator selected by cfg.Provider.
// Analysis always goes to Gemini.
func New(ctx context.Context, cfg config.GenAIConfig, log *logger.Logger) (Analyzer, ImageGenerator, error) {
	gem, err := NewGemini(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	switch cfg.Provider {
	case "pollinations":
		return gem, NewPollinations(log), nil
	case "gemini", "":
		return gem, gem, nil
	default:
		return nil, nil, fmt.Errorf("unknown image provider %q", cfg.Provider)
	}
}

const styleTemplate = `Illustrate the scene below as a panel from a vintage 1980s medical comic book.
Bold ink outlines with cross-hatched shadows. Muted retro print palette: mustard yellow, faded teal, brick red on aged cream paper.
High-contrast stage lighting, light halftone texture, dynamic graphic-novel composition.
Anatomy stays clear and schematic. Wide 16:9 frame.

Scene: %s`

// StylePrompt wraps a scene prompt in the fixed house style.
func StylePrompt(prompt string) string {
	return fmt.Sprintf(styleTemplate, strings.TrimSpace(prompt))
}

const analysisPrompt = `You host an energetic teaching show for medical students and sonographers.
Listen to the attached lecture and return ONE JSON object, no prose, with these fields:

- "transcript": the spoken content.
- "title": a catchy show-style title.
- "description": two or three sentences.
- "keywords": medical terms, array of strings.
- "lesson": {"topic", "target_audience", "learning_objectives" (3-5 strings),
  "anatomical_structures" (strings), "clinical_correlation", "technique_tips",
  "community_discussion", "quiz" (3 items of {"question","answer"})}.
- "storyboard": array of {"timestamp" (start in seconds, e.g. 3.2), "caption", "visual_prompt"}.

Storyboard rules: a new scene every 1.2 to 2 seconds, covering every beat of the audio in order.
Captions may use **bold** and *italic*. Visual prompts describe a vintage medical comic panel:
a professor in a white coat at a chalkboard, labeled diagrams, or stylized ultrasound screens.
If the topic is not medical, find a medical metaphor for it.`
