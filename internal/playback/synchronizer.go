package playback

import (
	"math"
	"sync"
	"time"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/storyboard"
)

// State is what a player UI needs to draw itself.
type State struct {
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Playing  bool    `json:"playing"`
	// Active is the scene on screen, -1 without scenes.
	Active int `json:"active"`
	// Background is the outgoing scene while the crossfade runs, else -1.
	Background int     `json:"background"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted"`
	Captions   bool    `json:"captions"`
	Scenes     int     `json:"scenes"`
}

// RenderFunc is called with the new state whenever the active scene changes.
type RenderFunc func(s State, scene storyboard.Scene)

// Synchronizer keeps the on-screen scene in step with the playback clock of
// the lecture audio. It is driven by time updates from the player.
type Synchronizer struct {
	mu       sync.Mutex
	scenes   []storyboard.Scene
	duration float64
	time     float64
	playing  bool
	volume   float64
	muted    bool
	captions bool

	active     int
	background int
	changedAt  time.Time

	crossfade time.Duration
	skip      float64
	now       func() time.Time
	render    RenderFunc
}

// NewSynchronizer returns a paused synchronizer. now defaults to time.Now.
func NewSynchronizer(cfg config.PlaybackConfig, render RenderFunc, now func() time.Time) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	if render == nil {
		render = func(State, storyboard.Scene) {}
	}
	skip := cfg.SkipSeconds
	if skip <= 0 {
		skip = 10
	}
	return &Synchronizer{
		volume:     1,
		captions:   true,
		active:     -1,
		background: -1,
		crossfade:  cfg.Crossfade,
		skip:       skip,
		now:        now,
		render:     render,
	}
}

// SetScenes swaps in a new scene list, e.g. after an edit. The active scene
// is re-rendered since its content may have changed.
func (s *Synchronizer) SetScenes(scenes []storyboard.Scene, duration float64) {
	s.mu.Lock()
	s.scenes = append([]storyboard.Scene(nil), scenes...)
	s.duration = math.Max(0, duration)
	s.time = s.clampTime(s.time)
	s.active = -1
	s.mu.Unlock()
	s.sync()
}

// OnTimeUpdate reports the player's current position.
func (s *Synchronizer) OnTimeUpdate(t float64) {
	s.mu.Lock()
	s.time = s.clampTime(t)
	s.mu.Unlock()
	s.sync()
}

func (s *Synchronizer) Play() {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()
}

func (s *Synchronizer) Pause() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

func (s *Synchronizer) TogglePlay() {
	s.mu.Lock()
	s.playing = !s.playing
	s.mu.Unlock()
}

func (s *Synchronizer) Seek(t float64) {
	s.OnTimeUpdate(t)
}

// Skip moves by delta seconds, clamped to the media.
func (s *Synchronizer) Skip(delta float64) {
	s.mu.Lock()
	t := s.time + delta
	s.mu.Unlock()
	s.Seek(t)
}

// SkipForward and SkipBack step by the configured skip interval.
func (s *Synchronizer) SkipForward() { s.Skip(s.skip) }
func (s *Synchronizer) SkipBack()    { s.Skip(-s.skip) }

// SetVolume clamps v to [0,1]. Zero mutes, anything louder unmutes.
func (s *Synchronizer) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if math.IsNaN(v) {
		return
	}
	s.volume = math.Min(1, math.Max(0, v))
	s.muted = s.volume == 0
}

func (s *Synchronizer) ToggleMute() {
	s.mu.Lock()
	s.muted = !s.muted
	s.mu.Unlock()
}

// ToggleCaptions flips caption display and re-renders the active scene.
func (s *Synchronizer) ToggleCaptions() {
	s.mu.Lock()
	s.captions = !s.captions
	st, scene, ok := s.stateLocked()
	s.mu.Unlock()
	if ok {
		s.render(st, scene)
	}
}

// JumpToScene seeks to the start of scene i and starts playing.
func (s *Synchronizer) JumpToScene(i int) bool {
	s.mu.Lock()
	if i < 0 || i >= len(s.scenes) {
		s.mu.Unlock()
		return false
	}
	t := s.scenes[i].StartTime
	s.playing = true
	s.mu.Unlock()
	s.Seek(t)
	return true
}

// State returns the current derived state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _, _ := s.stateLocked()
	return st
}

// Markers are scene start positions as percentages of the duration. Scenes
// starting past the end of the media are left out.
func (s *Synchronizer) Markers() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration <= 0 {
		return nil
	}
	out := make([]float64, 0, len(s.scenes))
	for _, sc := range s.scenes {
		p := sc.StartTime / s.duration * 100
		if p >= 0 && p <= 100 {
			out = append(out, p)
		}
	}
	return out
}

// sync recomputes the active scene and renders on change.
func (s *Synchronizer) sync() {
	s.mu.Lock()
	if len(s.scenes) == 0 {
		s.active, s.background = -1, -1
		s.mu.Unlock()
		return
	}
	idx := storyboard.ActiveSceneIndex(s.scenes, s.time)
	if idx == s.active {
		s.mu.Unlock()
		return
	}
	s.background = s.active
	s.active = idx
	s.changedAt = s.now()
	st, scene, _ := s.stateLocked()
	s.mu.Unlock()

	s.render(st, scene)
}

func (s *Synchronizer) stateLocked() (State, storyboard.Scene, bool) {
	st := State{
		Time:       s.time,
		Duration:   s.duration,
		Playing:    s.playing,
		Active:     s.active,
		Background: -1,
		Volume:     s.volume,
		Muted:      s.muted,
		Captions:   s.captions,
		Scenes:     len(s.scenes),
	}
	if s.background >= 0 && s.background < len(s.scenes) && s.now().Sub(s.changedAt) < s.crossfade {
		st.Background = s.background
	}
	if s.active < 0 || s.active >= len(s.scenes) {
		return st, storyboard.Scene{}, false
	}
	return st, s.scenes[s.active], true
}

func (s *Synchronizer) clampTime(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if s.duration > 0 && t > s.duration {
		return s.duration
	}
	return t
}
