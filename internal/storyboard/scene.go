package storyboard

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VisualKind tells which of the mutually exclusive visual states a scene is in.
type VisualKind string

const (
	VisualPending VisualKind = "pending"
	VisualImage   VisualKind = "image"
	VisualVideo   VisualKind = "video"
	VisualFailed  VisualKind = "failed"
)

// Visual is the picture shown while a scene is active.
type Visual struct {
	Kind         VisualKind `json:"kind" yaml:"kind"`
	Path         string     `json:"path,omitempty" yaml:"path,omitempty"`
	MimeType     string     `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	UserProvided bool       `json:"user_provided,omitempty" yaml:"user_provided,omitempty"`
}

// Usable reports whether the visual points at an asset that can be drawn.
func (v Visual) Usable() bool {
	return (v.Kind == VisualImage || v.Kind == VisualVideo) && v.Path != ""
}

// Scene is one timestamped storyboard beat.
type Scene struct {
	ID           string  `json:"id" yaml:"id"`
	Caption      string  `json:"caption" yaml:"caption"`
	VisualPrompt string  `json:"visual_prompt" yaml:"visual_prompt"`
	Visual       Visual  `json:"visual" yaml:"visual"`
	StartTime    float64 `json:"timestamp" yaml:"timestamp"`
	// Token is bumped on every generation dispatch and every user upload.
	// A generation result is applied only while its token is still current.
	Token        uint64 `json:"token" yaml:"token"`
	Regenerating bool   `json:"regenerating,omitempty" yaml:"regenerating,omitempty"`
}

type QuizQuestion struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

type Lesson struct {
	Topic                string         `json:"topic" yaml:"topic"`
	TargetAudience       string         `json:"target_audience" yaml:"target_audience"`
	LearningObjectives   []string       `json:"learning_objectives" yaml:"learning_objectives"`
	AnatomicalStructures []string       `json:"anatomical_structures" yaml:"anatomical_structures"`
	ClinicalCorrelation  string         `json:"clinical_correlation" yaml:"clinical_correlation"`
	TechniqueTips        string         `json:"technique_tips" yaml:"technique_tips"`
	CommunityDiscussion  string         `json:"community_discussion" yaml:"community_discussion"`
	Quiz                 []QuizQuestion `json:"quiz" yaml:"quiz"`
}

// Beat is a storyboard entry as returned by the analysis model.
type Beat struct {
	Timestamp    float64 `json:"timestamp" yaml:"timestamp"`
	Caption      string  `json:"caption" yaml:"caption"`
	VisualPrompt string  `json:"visual_prompt" yaml:"visual_prompt"`
}

// Analysis is the structured record produced from the uploaded lecture.
type Analysis struct {
	Transcript  string   `json:"transcript" yaml:"transcript"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
	Lesson      Lesson   `json:"lesson" yaml:"lesson"`
	Storyboard  []Beat   `json:"storyboard,omitempty" yaml:"storyboard,omitempty"`
}

// NewScenes turns analysis beats into pending scenes ordered by start time.
func NewScenes(beats []Beat) []Scene {
	scenes := make([]Scene, len(beats))
	for i, b := range beats {
		start := b.Timestamp
		if start < 0 {
			start = 0
		}
		scenes[i] = Scene{
			ID:           uuid.NewString(),
			Caption:      b.Caption,
			VisualPrompt: b.VisualPrompt,
			Visual:       Visual{Kind: VisualPending},
			StartTime:    start,
		}
	}
	SortScenes(scenes)
	return scenes
}

// SortScenes restores non-decreasing start time order in place. The sort is
// stable so scenes sharing a start time keep their document order.
func SortScenes(scenes []Scene) {
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].StartTime < scenes[j].StartTime
	})
}

// Sorted reports whether scenes are in non-decreasing start time order.
func Sorted(scenes []Scene) bool {
	for i := 1; i < len(scenes); i++ {
		if scenes[i].StartTime < scenes[i-1].StartTime {
			return false
		}
	}
	return true
}

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating_visuals"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
)

// Stable phases are the ones a session is persisted in.
func (p Phase) Stable() bool {
	return p == PhaseComplete
}

// Media is the uploaded lecture asset.
type Media struct {
	Name     string `json:"name" yaml:"name"`
	Path     string `json:"path" yaml:"path"`
	MimeType string `json:"mime_type" yaml:"mime_type"`
}

// Session is the single document the application works on.
type Session struct {
	Media     Media     `json:"media" yaml:"media"`
	Analysis  Analysis  `json:"analysis" yaml:"analysis"`
	Scenes    []Scene   `json:"scenes" yaml:"scenes"`
	Phase     Phase     `json:"phase" yaml:"phase"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func (s *Session) HasScenes() bool {
	return s != nil && len(s.Scenes) > 0
}

// Clone returns a copy whose scene slice can be modified without affecting s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Scenes = append([]Scene(nil), s.Scenes...)
	return &c
}

// SceneIndex returns the current position of the scene with the given ID, or -1.
func (s *Session) SceneIndex(id string) int {
	for i := range s.Scenes {
		if s.Scenes[i].ID == id {
			return i
		}
	}
	return -1
}

// VisualsReady counts scenes that are no longer waiting for a generated image.
func (s *Session) VisualsReady() int {
	n := 0
	for _, sc := range s.Scenes {
		if sc.Visual.Kind != VisualPending {
			n++
		}
	}
	return n
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]`)

// ExportName turns the lesson title into a file name stem.
func (s *Session) ExportName() string {
	title := strings.TrimSpace(s.Analysis.Title)
	if title == "" {
		title = "storyboard"
	}
	return unsafeName.ReplaceAllString(strings.ToLower(title), "_")
}
