package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/logging"
	"github.com/rs/zerolog/log"
)

type StepResult int

const (
	StepCalled StepResult = iota
	StepSkipped
)

// StepFunc performs one step of a group call against target.
type StepFunc func(ctx context.Context, target core.ConnID) (StepResult, error)

// GroupReport is the outcome of a group call job.
type GroupReport struct {
	Called   []core.ConnID
	Skipped  []core.ConnID
	Failed   []core.ConnID
	Canceled bool
}

// GroupJob is one running group call. It lives only in memory.
type GroupJob struct {
	Initiator core.ConnID

	cancel context.CancelFunc
	done   chan struct{}
	report GroupReport
}

// Wait blocks until the job finished or was canceled.
func (j *GroupJob) Wait() GroupReport {
	<-j.done
	return j.report
}

func (j *GroupJob) Done() <-chan struct{} { return j.done }

// Sequencer runs at most one group call per initiator. Targets are called one
// at a time with a pause after every placed call.
type Sequencer struct {
	mu     sync.Mutex
	pacing time.Duration
	jobs   map[core.ConnID]*GroupJob
	onDone func(initiator core.ConnID, report GroupReport)
}

// NewSequencer creates a sequencer. onDone, if set, runs in the job goroutine
// when a job finishes without being canceled.
func NewSequencer(pacing time.Duration, onDone func(core.ConnID, GroupReport)) *Sequencer {
	return &Sequencer{
		pacing: pacing,
		jobs:   make(map[core.ConnID]*GroupJob),
		onDone: onDone,
	}
}

// Start cancels any job already running for initiator and starts a new one
// over targets.
func (s *Sequencer) Start(initiator core.ConnID, targets []core.ConnID, step StepFunc) *GroupJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &GroupJob{Initiator: initiator, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.jobs[initiator]; ok {
		prev.cancel()
		log.Info().Str(logging.FieldModule, "app.sequencer").Str(logging.FieldConnID, string(initiator)).Msg("previous group call superseded")
	}
	s.jobs[initiator] = job
	s.mu.Unlock()

	log.Info().Str(logging.FieldModule, "app.sequencer").Str(logging.FieldConnID, string(initiator)).Int("targets", len(targets)).Msg("group call started")
	go s.run(ctx, job, targets, step)
	return job
}

func (s *Sequencer) run(ctx context.Context, job *GroupJob, targets []core.ConnID, step StepFunc) {
	defer close(job.done)
	defer s.forget(job)
	lg := log.With().Str(logging.FieldModule, "app.sequencer").Str(logging.FieldConnID, string(job.Initiator)).Logger()
	rep := &job.report

	for i, target := range targets {
		if ctx.Err() != nil {
			rep.Canceled = true
			break
		}
		res, err := step(ctx, target)
		if err != nil {
			rep.Failed = append(rep.Failed, target)
			lg.Warn().Err(err).Str(logging.FieldPeer, string(target)).Msg("group call step failed")
			continue
		}
		if res == StepSkipped {
			rep.Skipped = append(rep.Skipped, target)
			continue
		}
		rep.Called = append(rep.Called, target)
		if i == len(targets)-1 || s.pacing <= 0 {
			continue
		}
		timer := time.NewTimer(s.pacing)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
	if ctx.Err() != nil {
		rep.Canceled = true
	}

	lg.Info().Int("called", len(rep.Called)).Int("skipped", len(rep.Skipped)).Int("failed", len(rep.Failed)).
		Bool("canceled", rep.Canceled).Msg("group call finished")
	if !rep.Canceled && s.onDone != nil {
		s.onDone(job.Initiator, *rep)
	}
}

func (s *Sequencer) forget(job *GroupJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[job.Initiator] == job {
		delete(s.jobs, job.Initiator)
	}
	job.cancel()
}

// Cancel stops the job of initiator. It reports whether one was running.
func (s *Sequencer) Cancel(initiator core.ConnID) bool {
	s.mu.Lock()
	job, ok := s.jobs[initiator]
	if ok {
		delete(s.jobs, initiator)
	}
	s.mu.Unlock()
	if ok {
		job.cancel()
	}
	return ok
}

func (s *Sequencer) Running(initiator core.ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[initiator]
	return ok
}

// Shutdown cancels every job and waits for them to stop.
func (s *Sequencer) Shutdown() {
	s.mu.Lock()
	jobs := make([]*GroupJob, 0, len(s.jobs))
	for id, job := range s.jobs {
		jobs = append(jobs, job)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	for _, job := range jobs {
		job.cancel()
		<-job.done
	}
}
