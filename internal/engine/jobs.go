package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ivlev/storyreel/internal/logger"
	"github.com/ivlev/storyreel/internal/storyboard"
)

var ErrJobNotFound = errors.New("export job not found")

type State string

const (
	StateIdle      State = "idle"
	StateRendering State = "rendering"
	StateComplete  State = "complete"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Settled states never change again.
func (s State) Settled() bool {
	return s == StateComplete || s == StateCancelled || s == StateFailed
}

// JobStatus is a point-in-time view of an export job.
type JobStatus struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	Frames    int       `json:"frames,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type job struct {
	status     JobStatus
	path       string
	cancelled  atomic.Bool
	downloaded bool
	done       chan struct{}
}

// Jobs runs export jobs in the background, at most one at a time.
type Jobs struct {
	mu      sync.Mutex
	jobs    map[string]*job
	running string

	exporter  *Exporter
	outputDir string
	base      context.Context
	log       *logger.Logger
}

// NewJobs binds job lifetimes to base; cancelling it stops a running export.
func NewJobs(base context.Context, exporter *Exporter, outputDir string, log *logger.Logger) *Jobs {
	return &Jobs{
		jobs:      make(map[string]*job),
		exporter:  exporter,
		outputDir: outputDir,
		base:      base,
		log:       log.With("service", "jobs"),
	}
}

// Start renders a snapshot of sess. Edits made to the live session after
// Start do not affect the running export.
func (j *Jobs) Start(sess *storyboard.Session) (JobStatus, error) {
	if !sess.HasScenes() {
		return JobStatus{}, storyboard.ErrNoSession
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running != "" {
		return JobStatus{}, storyboard.ErrJobRunning
	}
	j.pruneLocked()

	id := uuid.NewString()
	jb := &job{
		status: JobStatus{
			ID:        id,
			State:     StateRendering,
			FileName:  sess.ExportName() + ".mp4",
			CreatedAt: time.Now(),
		},
		path: filepath.Join(j.outputDir, id+".mp4"),
		done: make(chan struct{}),
	}
	j.jobs[id] = jb
	j.running = id

	go j.run(jb, sess.Clone())
	return jb.status, nil
}

func (j *Jobs) run(jb *job, sess *storyboard.Session) {
	defer close(jb.done)

	progress := func(p float64) {
		j.mu.Lock()
		jb.status.Progress = p
		j.mu.Unlock()
	}
	res, err := j.exporter.Export(j.base, sess, jb.path, progress, jb.cancelled.Load)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = ""
	switch {
	case err == nil:
		jb.status.State = StateComplete
		jb.status.Progress = 1
		jb.status.Frames = res.Frames
	case IsCancelled(err) || jb.cancelled.Load():
		jb.status.State = StateCancelled
		os.Remove(jb.path)
	default:
		jb.status.State = StateFailed
		jb.status.Error = err.Error()
		j.log.Error("export job failed", "job", jb.status.ID, "error", err)
	}
}

func (j *Jobs) Status(id string) (JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	jb, ok := j.jobs[id]
	if !ok {
		return JobStatus{}, ErrJobNotFound
	}
	return jb.status, nil
}

// Cancel requests a cooperative stop; the job settles as cancelled once the
// frame loop notices.
func (j *Jobs) Cancel(id string) error {
	j.mu.Lock()
	jb, ok := j.jobs[id]
	j.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	jb.cancelled.Store(true)
	return nil
}

// Done is closed when the job settles.
func (j *Jobs) Done(id string) (<-chan struct{}, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	jb, ok := j.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return jb.done, nil
}

// Result returns the path of a completed export and the name it should be
// downloaded as. The file is removed the next time a job starts.
func (j *Jobs) Result(id string) (path, name string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	jb, ok := j.jobs[id]
	if !ok {
		return "", "", ErrJobNotFound
	}
	if jb.status.State != StateComplete {
		return "", "", storyboard.ErrExport
	}
	jb.downloaded = true
	return jb.path, jb.status.FileName, nil
}

// pruneLocked forgets settled jobs nobody will ask about again.
func (j *Jobs) pruneLocked() {
	for id, jb := range j.jobs {
		switch {
		case jb.status.State == StateCancelled, jb.status.State == StateFailed:
			delete(j.jobs, id)
		case jb.status.State == StateComplete && jb.downloaded:
			os.Remove(jb.path)
			delete(j.jobs, id)
		}
	}
}
