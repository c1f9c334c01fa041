package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/models"
)

// Scheduler state errors
var (
	ErrInvalidInterval = errors.New("auto-capture interval must be positive")
	ErrAlreadyRunning  = errors.New("auto-capture is already running")
)

// AutoCaptureState is the observable state of the scheduler
type AutoCaptureState struct {
	Running         bool                `json:"running"`
	IntervalMs      int64               `json:"intervalMs,omitempty"`
	MissedTicks     int                 `json:"missedTicks"`
	LastBatchResult *models.BatchResult `json:"lastBatchResult,omitempty"`
}

// AutoCaptureScheduler fires a capture batch at a fixed interval until
// stopped. At most one instance lives per engine, and at most one
// auto-triggered batch is in flight at a time: a tick that arrives
// while the previous batch is still settling is skipped, not queued.
type AutoCaptureScheduler struct {
	dispatcher  *Dispatcher
	opts        BatchOptions
	minInterval time.Duration

	// invoked after every settled tick, outside the lock; may be nil
	onResult func(*models.BatchResult)

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight bool
	batchWG  sync.WaitGroup
	missed   int
	last     *models.BatchResult
}

// NewAutoCaptureScheduler creates an idle scheduler
func NewAutoCaptureScheduler(d *Dispatcher, opts BatchOptions, minInterval time.Duration) *AutoCaptureScheduler {
	return &AutoCaptureScheduler{
		dispatcher:  d,
		opts:        opts,
		minInterval: minInterval,
	}
}

// OnResult installs a hook fired after every settled tick. Must be set
// before Start.
func (s *AutoCaptureScheduler) OnResult(fn func(*models.BatchResult)) {
	s.onResult = fn
}

// Start transitions Idle -> Running and begins firing the capture job
// at the given interval
func (s *AutoCaptureScheduler) Start(interval time.Duration, job models.CaptureJob) error {
	if interval <= 0 || interval < s.minInterval {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.interval = interval
	s.cancel = cancel
	s.done = make(chan struct{})
	s.missed = 0

	go s.loop(ctx, interval, job)

	log.Info().
		Dur("interval", interval).
		Int("targets", len(job.TargetSessionIDs)).
		Msg("Auto-capture started")
	return nil
}

// Stop halts the tick loop and waits for the in-flight batch, if any,
// to settle naturally; the batch itself is never cancelled. Stopping an
// idle scheduler is a no-op.
func (s *AutoCaptureScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	// Idle only after the last batch settles
	s.batchWG.Wait()

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	log.Info().Msg("Auto-capture stopped")
}

// State returns the scheduler's observable state
func (s *AutoCaptureScheduler) State() AutoCaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := AutoCaptureState{
		Running:         s.running,
		MissedTicks:     s.missed,
		LastBatchResult: s.last,
	}
	if s.running {
		st.IntervalMs = s.interval.Milliseconds()
	}
	return st
}

// LastBatchResult returns the most recent settled tick's result
func (s *AutoCaptureScheduler) LastBatchResult() *models.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *AutoCaptureScheduler) loop(ctx context.Context, interval time.Duration, job models.CaptureJob) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(job)
		}
	}
}

// tick fires one capture batch unless the previous one has not settled
func (s *AutoCaptureScheduler) tick(job models.CaptureJob) {
	s.mu.Lock()
	if s.inFlight {
		s.missed++
		missed := s.missed
		s.mu.Unlock()
		log.Warn().Int("missed", missed).Msg("Auto-capture tick skipped, previous batch still running")
		return
	}
	s.inFlight = true
	s.batchWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.batchWG.Done()

		// Detached from the loop context so Stop lets the batch settle
		// instead of cancelling it mid-flight.
		result, err := s.dispatcher.RunCapture(context.Background(), job, s.opts)

		s.mu.Lock()
		s.inFlight = false
		if result != nil {
			s.last = result
		}
		s.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Msg("Auto-capture batch rejected")
			return
		}
		if s.onResult != nil {
			s.onResult(result)
		}
	}()
}
