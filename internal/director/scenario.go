package director

import "github.com/ivlev/storyreel/internal/storyboard"

// Version of the storyboard document format.
const Version = "1.0"

// Scenario is a portable storyboard: the lesson metadata and every scene,
// with visuals referenced by file path.
type Scenario struct {
	Version  string              `yaml:"version"`
	Media    string              `yaml:"media,omitempty"`
	Analysis storyboard.Analysis `yaml:"analysis"`
	Slides   []Slide             `yaml:"slides"`
}

// Slide is one scene of the storyboard.
type Slide struct {
	ID           string  `yaml:"id,omitempty"`
	Timestamp    float64 `yaml:"timestamp"` // seconds from the start of the lecture
	Caption      string  `yaml:"caption"`
	VisualPrompt string  `yaml:"visual_prompt"`
	Input        string  `yaml:"input,omitempty"` // visual file, empty while pending
	MimeType     string  `yaml:"mime_type,omitempty"`
	UserProvided bool    `yaml:"user_provided,omitempty"`
}
