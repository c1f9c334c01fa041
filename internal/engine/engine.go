// Package engine implements the multi-device orchestration core:
// session registry, bounded-concurrency batch dispatch, profile-driven
// configuration and timed auto-capture.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/driver"
	"github.com/camfleet/camfleet-server/internal/models"
	"github.com/camfleet/camfleet-server/internal/naming"
	"github.com/camfleet/camfleet-server/internal/storage"
)

// Notifier receives engine events for asynchronous delivery to callers.
// Implementations must not block.
type Notifier interface {
	BatchCompleted(result *models.BatchResult)
	SessionStatus(session *models.Session)
	AutoCaptureTick(result *models.BatchResult, missed int)
}

// BatchState describes where a submitted batch is
type BatchState string

const (
	BatchStateRunning   BatchState = "RUNNING"
	BatchStateCompleted BatchState = "COMPLETED"
	BatchStateUnknown   BatchState = "UNKNOWN"
)

// Engine owns the orchestration components and offers the operations
// the API layer exposes. All methods are safe for concurrent use; batch
// submission returns promptly and settles in the background.
type Engine struct {
	cfg      *config.Config
	driver   driver.Driver
	store    storage.Store
	notifier Notifier

	registry   *Registry
	dispatcher *Dispatcher
	applier    *ProfileApplier
	scheduler  *AutoCaptureScheduler

	detectTimeout time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
}

// New wires up an engine. notifier may be nil.
func New(cfg *config.Config, drv driver.Driver, store storage.Store, notifier Notifier) *Engine {
	registry := NewRegistry()
	namer := naming.NewNamer(cfg.Capture.SaveDir, cfg.Capture.OrganizeByFormat)
	dispatcher := NewDispatcher(registry, drv, namer, &cfg.Engine)

	e := &Engine{
		cfg:           cfg,
		driver:        drv,
		store:         store,
		notifier:      notifier,
		registry:      registry,
		dispatcher:    dispatcher,
		applier:       NewProfileApplier(dispatcher),
		detectTimeout: cfg.Engine.DetectTimeout,
		pending:       make(map[uuid.UUID]struct{}),
	}

	e.scheduler = NewAutoCaptureScheduler(dispatcher, BatchOptions{}, cfg.Engine.MinAutoCaptureInterval)
	e.scheduler.OnResult(func(result *models.BatchResult) {
		e.persist(result)
		if e.notifier != nil {
			e.notifier.AutoCaptureTick(result, e.scheduler.State().MissedTicks)
		}
	})

	if notifier != nil {
		registry.OnStatusChange(notifier.SessionStatus)
	}

	return e
}

// Registry exposes the session registry for snapshot reads
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Dispatcher exposes the dispatcher for synchronous callers
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// SubmitCapture starts a capture batch in the background and returns
// its id immediately. done, if non-nil, runs after the batch settles,
// after persistence and notification.
func (e *Engine) SubmitCapture(job models.CaptureJob, opts BatchOptions, done func(*models.BatchResult)) (uuid.UUID, error) {
	if len(job.TargetSessionIDs) == 0 {
		return uuid.Nil, ErrEmptyTargets
	}
	return e.submit(opts, done, func(ctx context.Context, opts BatchOptions) (*models.BatchResult, error) {
		return e.dispatcher.RunCapture(ctx, job, opts)
	})
}

// SubmitSettingChange starts a setting-change batch in the background
func (e *Engine) SubmitSettingChange(job models.SettingChangeJob, opts BatchOptions, done func(*models.BatchResult)) (uuid.UUID, error) {
	if len(job.TargetSessionIDs) == 0 {
		return uuid.Nil, ErrEmptyTargets
	}
	if len(job.Settings) == 0 {
		return uuid.Nil, fmt.Errorf("setting change with no settings")
	}
	return e.submit(opts, done, func(ctx context.Context, opts BatchOptions) (*models.BatchResult, error) {
		return e.dispatcher.RunSettingChange(ctx, job, opts)
	})
}

func (e *Engine) submit(opts BatchOptions, done func(*models.BatchResult), run func(context.Context, BatchOptions) (*models.BatchResult, error)) (uuid.UUID, error) {
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}

	e.mu.Lock()
	e.pending[opts.ID] = struct{}{}
	e.mu.Unlock()

	go func() {
		// batches outlive the API request that submitted them
		result, err := run(context.Background(), opts)

		if err != nil {
			log.Error().Err(err).Str("batch", opts.ID.String()).Msg("Batch rejected")
			e.mu.Lock()
			delete(e.pending, opts.ID)
			e.mu.Unlock()
			return
		}

		// The id stays pending until the report is stored: a poller must
		// see Running or Completed for a submitted batch, never Unknown.
		e.persist(result)

		e.mu.Lock()
		delete(e.pending, opts.ID)
		e.mu.Unlock()

		if e.notifier != nil {
			e.notifier.BatchCompleted(result)
		}
		if done != nil {
			done(result)
		}
	}()

	return opts.ID, nil
}

// BatchState reports whether a batch is still running, settled, or
// unknown to this engine
func (e *Engine) BatchState(ctx context.Context, id uuid.UUID) (BatchState, *models.BatchResult, error) {
	e.mu.Lock()
	_, running := e.pending[id]
	e.mu.Unlock()
	if running {
		return BatchStateRunning, nil, nil
	}

	result, err := e.store.GetBatchReport(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			return BatchStateUnknown, nil, nil
		}
		return BatchStateUnknown, nil, err
	}
	return BatchStateCompleted, result, nil
}

// ApplyProfile loads a named profile and applies it to the targets,
// optionally chaining into a capture over the configured subset
func (e *Engine) ApplyProfile(ctx context.Context, name string, targetIDs []string, captureAfter bool, filenamePrefix string, opts BatchOptions) (*ApplyReport, error) {
	profile, err := e.store.GetProfileByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	capture := models.CaptureJob{
		FilenamePrefix:   filenamePrefix,
		FormatPreference: e.cfg.Capture.FormatPreference,
	}
	report, err := e.applier.ApplyAndOptionallyCapture(ctx, profile, targetIDs, captureAfter, capture, opts)
	if err != nil {
		return nil, err
	}

	e.persist(report.ConfigResult)
	if e.notifier != nil {
		e.notifier.BatchCompleted(report.ConfigResult)
	}
	if report.CaptureResult != nil {
		e.persist(report.CaptureResult)
		if e.notifier != nil {
			e.notifier.BatchCompleted(report.CaptureResult)
		}
	}
	return report, nil
}

// StartAutoCapture begins periodic capture over the targets
func (e *Engine) StartAutoCapture(interval time.Duration, targetIDs []string) error {
	if len(targetIDs) == 0 {
		return ErrEmptyTargets
	}
	return e.scheduler.Start(interval, models.CaptureJob{
		TargetSessionIDs: targetIDs,
		FilenamePrefix:   e.cfg.Capture.FilenamePrefix,
		FormatPreference: e.cfg.Capture.FormatPreference,
	})
}

// StopAutoCapture stops the periodic capture loop, waiting for the
// in-flight batch to settle
func (e *Engine) StopAutoCapture() {
	e.scheduler.Stop()
}

// AutoCaptureState returns the scheduler's observable state
func (e *Engine) AutoCaptureState() AutoCaptureState {
	return e.scheduler.State()
}

// Preview grabs one preview frame from a session
func (e *Engine) Preview(ctx context.Context, id string) ([]byte, error) {
	return e.dispatcher.RunPreview(ctx, id)
}

// Shutdown stops background work. In-flight batches are asked to stop
// and waited for via the scheduler; fire-and-forget submissions settle
// on their own.
func (e *Engine) Shutdown() {
	e.scheduler.Stop()
}

func (e *Engine) persist(result *models.BatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.store.SaveBatchReport(ctx, result); err != nil {
		log.Error().Err(err).Str("batch", result.ID.String()).Msg("Failed to persist batch report")
	}
}
