package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/store"
	"github.com/ivlev/storyreel/internal/storyboard"
)

type EventType string

const (
	EventPhase EventType = "phase"
	EventScene EventType = "scene"
	EventReset EventType = "reset"
)

// Event is published to subscribers after every committed change.
type Event struct {
	Type    EventType        `json:"type"`
	Phase   storyboard.Phase `json:"phase"`
	SceneID string           `json:"scene_id,omitempty"`
	Ready   int              `json:"ready"`
	Total   int              `json:"total"`
	Error   string           `json:"error,omitempty"`
}

var transitions = map[storyboard.Phase][]storyboard.Phase{
	storyboard.PhaseIdle:       {storyboard.PhaseAnalyzing},
	storyboard.PhaseAnalyzing:  {storyboard.PhaseGenerating, storyboard.PhaseError},
	storyboard.PhaseGenerating: {storyboard.PhaseComplete, storyboard.PhaseError},
	storyboard.PhaseComplete:   {},
	storyboard.PhaseError:      {},
}

func canTransition(from, to storyboard.Phase) bool {
	if to == storyboard.PhaseIdle {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Manager owns the single session. Writers are serialized; readers get
// immutable snapshots that are replaced, never modified, on each change.
type Manager struct {
	mu  sync.Mutex
	cur *storyboard.Session
	// epoch identifies the pipeline run that owns cur. Start, Reset and
	// Replace begin a new one.
	epoch uint64

	saveMu sync.Mutex
	store  store.Store
	log    *logger.Logger

	subsMu sync.Mutex
	subs   map[chan Event]struct{}

	now func() time.Time
}

func NewManager(st store.Store, log *logger.Logger) *Manager {
	return &Manager{
		cur:   &storyboard.Session{Phase: storyboard.PhaseIdle},
		store: st,
		log:   log.With("service", "session"),
		subs:  make(map[chan Event]struct{}),
		now:   time.Now,
	}
}

// Snapshot returns the current session. Callers must not modify it.
func (m *Manager) Snapshot() *storyboard.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Restore loads a previously saved session, if there is one.
func (m *Manager) Restore(ctx context.Context) error {
	s, err := m.store.Load(ctx)
	if errors.Is(err, storyboard.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Phase = storyboard.PhaseComplete
	// Nothing survives a restart to settle an in-flight regeneration.
	for i := range s.Scenes {
		s.Scenes[i].Regenerating = false
	}
	m.mu.Lock()
	m.cur = s
	m.epoch++
	m.mu.Unlock()
	m.log.Info("session restored", "title", s.Analysis.Title, "scenes", len(s.Scenes))
	m.publish(Event{Type: EventPhase, Phase: s.Phase, Ready: s.VisualsReady(), Total: len(s.Scenes)})
	return nil
}

// Start begins analysis of a freshly uploaded lecture. The returned epoch
// must accompany the pipeline's later SetAnalysis, Complete and Fail calls.
func (m *Manager) Start(media storyboard.Media) (uint64, error) {
	var epoch uint64
	_, err := m.commit(func(s *storyboard.Session) error {
		if err := m.transition(s, storyboard.PhaseAnalyzing); err != nil {
			return err
		}
		*s = storyboard.Session{Media: media, Phase: storyboard.PhaseAnalyzing}
		m.epoch++
		epoch = m.epoch
		return nil
	}, Event{Type: EventPhase})
	return epoch, err
}

// owns rejects a pipeline whose session has been reset or replaced. Called
// with m.mu held.
func (m *Manager) owns(epoch uint64) error {
	if epoch != m.epoch {
		return fmt.Errorf("%w: run %d, current %d", ErrStaleSession, epoch, m.epoch)
	}
	return nil
}

// SetAnalysis stores the analysis and moves to visual generation with every
// scene pending.
func (m *Manager) SetAnalysis(epoch uint64, a storyboard.Analysis) (*storyboard.Session, error) {
	return m.commit(func(s *storyboard.Session) error {
		if err := m.owns(epoch); err != nil {
			return err
		}
		if err := m.transition(s, storyboard.PhaseGenerating); err != nil {
			return err
		}
		s.Scenes = storyboard.NewScenes(a.Storyboard)
		a.Storyboard = nil
		s.Analysis = a
		return nil
	}, Event{Type: EventPhase})
}

// Complete marks the session stable and persists it.
func (m *Manager) Complete(ctx context.Context, epoch uint64) error {
	if _, err := m.commit(func(s *storyboard.Session) error {
		if err := m.owns(epoch); err != nil {
			return err
		}
		return m.transition(s, storyboard.PhaseComplete)
	}, Event{Type: EventPhase}); err != nil {
		return err
	}
	m.persist(ctx)
	return nil
}

// Fail records a fatal pipeline error.
func (m *Manager) Fail(epoch uint64, cause error) {
	_, err := m.commit(func(s *storyboard.Session) error {
		if err := m.owns(epoch); err != nil {
			return err
		}
		if err := m.transition(s, storyboard.PhaseError); err != nil {
			return err
		}
		s.Error = cause.Error()
		return nil
	}, Event{Type: EventPhase})
	if err != nil {
		m.log.Warn("could not record failure", "cause", cause, "error", err)
	}
}

// Epoch identifies the current session for background work started on it.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Reset drops the session and everything persisted for it.
func (m *Manager) Reset(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if _, err := m.commit(func(s *storyboard.Session) error {
		*s = storyboard.Session{Phase: storyboard.PhaseIdle}
		m.epoch++
		return nil
	}, Event{Type: EventReset}); err != nil {
		return err
	}
	return m.store.Clear(ctx)
}

// Replace installs a complete session wholesale, e.g. an imported storyboard.
func (m *Manager) Replace(ctx context.Context, s *storyboard.Session) {
	next := s.Clone()
	next.Phase = storyboard.PhaseComplete
	storyboard.SortScenes(next.Scenes)
	next.UpdatedAt = m.now()
	m.mu.Lock()
	m.cur = next
	m.epoch++
	m.mu.Unlock()
	m.publish(Event{Type: EventPhase, Phase: next.Phase, Ready: next.VisualsReady(), Total: len(next.Scenes)})
	m.persist(ctx)
}

// Apply runs one patch against the scene with the given ID.
func (m *Manager) Apply(ctx context.Context, id string, p Patch) (*storyboard.Session, error) {
	snap, err := m.commit(func(s *storyboard.Session) error {
		i := s.SceneIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", storyboard.ErrSceneNotFound, id)
		}
		resort, err := p.apply(&s.Scenes[i])
		if err != nil {
			return err
		}
		if resort {
			storyboard.SortScenes(s.Scenes)
		}
		return nil
	}, Event{Type: EventScene, SceneID: id})
	if err != nil {
		return nil, err
	}
	if snap.Phase.Stable() {
		m.persist(ctx)
	}
	return snap, nil
}

// ApplyAt resolves a display index to a scene ID and applies p.
func (m *Manager) ApplyAt(ctx context.Context, index int, p Patch) (*storyboard.Session, error) {
	id, err := m.SceneID(index)
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, id, p)
}

func (m *Manager) SceneID(index int) (string, error) {
	s := m.Snapshot()
	if index < 0 || index >= len(s.Scenes) {
		return "", fmt.Errorf("%w: index %d", storyboard.ErrSceneNotFound, index)
	}
	return s.Scenes[index].ID, nil
}

// BeginGeneration takes a new token for the scene and returns the scene as
// it was dispatched.
func (m *Manager) BeginGeneration(ctx context.Context, id string, manual bool) (storyboard.Scene, error) {
	snap, err := m.Apply(ctx, id, BeginGeneration{Manual: manual})
	if err != nil {
		return storyboard.Scene{}, err
	}
	return snap.Scenes[snap.SceneIndex(id)], nil
}

func (m *Manager) transition(s *storyboard.Session, to storyboard.Phase) error {
	if !canTransition(s.Phase, to) {
		return fmt.Errorf("%w: %s -> %s", storyboard.ErrInvalidTransition, s.Phase, to)
	}
	s.Phase = to
	if to != storyboard.PhaseError {
		s.Error = ""
	}
	return nil
}

// commit applies fn to a copy of the current session and publishes it.
func (m *Manager) commit(fn func(*storyboard.Session) error, ev Event) (*storyboard.Session, error) {
	m.mu.Lock()
	next := m.cur.Clone()
	if err := fn(next); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = m.now()
	m.cur = next
	m.mu.Unlock()

	ev.Phase = next.Phase
	ev.Ready = next.VisualsReady()
	ev.Total = len(next.Scenes)
	ev.Error = next.Error
	m.publish(ev)
	return next, nil
}

// persist saves the latest snapshot. Failures are logged; persistence is
// best effort.
func (m *Manager) persist(ctx context.Context) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	snap := m.Snapshot()
	if !snap.Phase.Stable() {
		return
	}
	if err := m.store.Save(ctx, snap); err != nil {
		m.log.Warn("session save failed", "error", err)
	}
}

// Subscribe returns a channel of session events and a cancel func. Slow
// subscribers miss events rather than block writers.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			m.subsMu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) publish(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Debug("dropping session event for slow subscriber", "type", ev.Type)
		}
	}
}
