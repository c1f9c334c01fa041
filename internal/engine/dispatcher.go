package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/driver"
	"github.com/camfleet/camfleet-server/internal/models"
	"github.com/camfleet/camfleet-server/internal/naming"
)

// Batch request errors. Per-session failures are never returned as
// errors; they are recorded in the BatchResult.
var (
	ErrEmptyTargets = errors.New("batch has no target sessions")
)

// BatchOptions tunes one batch run
type BatchOptions struct {
	// ID pre-assigns the batch id so a caller can hand it out before
	// the batch settles. Zero means a fresh id.
	ID uuid.UUID

	// Concurrency bounds the worker pool. Zero means one worker per
	// target, capped at the configured maximum.
	Concurrency int

	// PerSessionTimeout bounds each driver call. Zero means the
	// configured default.
	PerSessionTimeout time.Duration
}

// Dispatcher runs one logical command across a subset of sessions with
// bounded parallelism, per-session timeouts and isolated failures.
type Dispatcher struct {
	registry *Registry
	driver   driver.Driver
	namer    *naming.Namer

	maxConcurrency int
	defaultTimeout time.Duration
}

// NewDispatcher creates a dispatcher over the given registry and driver
func NewDispatcher(registry *Registry, drv driver.Driver, namer *naming.Namer, cfg *config.EngineConfig) *Dispatcher {
	return &Dispatcher{
		registry:       registry,
		driver:         drv,
		namer:          namer,
		maxConcurrency: cfg.MaxConcurrency,
		defaultTimeout: cfg.DefaultTimeout,
	}
}

// sessionOp performs one session's share of a batch. It returns the
// outcome payload plus any setting values that took effect on the
// device (applied even when err != nil, since the device changed).
type sessionOp func(ctx context.Context, sess *models.Session) (payload string, applied models.Settings, err error)

// RunCapture captures an image on every target session
func (d *Dispatcher) RunCapture(ctx context.Context, job models.CaptureJob, opts BatchOptions) (*models.BatchResult, error) {
	return d.runBatch(ctx, models.JobKindCapture, job.TargetSessionIDs, opts,
		func(ctx context.Context, sess *models.Session) (string, models.Settings, error) {
			return d.captureOne(ctx, sess, job)
		})
}

// RunSettingChange applies setting values to every target session
func (d *Dispatcher) RunSettingChange(ctx context.Context, job models.SettingChangeJob, opts BatchOptions) (*models.BatchResult, error) {
	if len(job.Settings) == 0 {
		return nil, fmt.Errorf("setting change with no settings")
	}
	return d.runBatch(ctx, models.JobKindSettingChange, job.TargetSessionIDs, opts,
		func(ctx context.Context, sess *models.Session) (string, models.Settings, error) {
			return d.applySettingsOne(ctx, sess, job.Settings)
		})
}

// RunRefresh reads the current setting values back from every target
// session, refreshing the registry's view
func (d *Dispatcher) RunRefresh(ctx context.Context, targetIDs []string, opts BatchOptions) (*models.BatchResult, error) {
	return d.runBatch(ctx, models.JobKindRefresh, targetIDs, opts, d.refreshOne)
}

// RunPreview grabs a preview frame from one session under the same
// busy-lock discipline as a batch
func (d *Dispatcher) RunPreview(ctx context.Context, id string) ([]byte, error) {
	if _, ok := d.registry.Get(id); !ok {
		return nil, fmt.Errorf("session %s: %s", id, models.ErrorSessionGone)
	}
	if !d.registry.acquire(id) {
		return nil, fmt.Errorf("session %s: %s", id, models.ErrorAlreadyBusy)
	}
	defer d.registry.release(id)

	opCtx, cancel := context.WithTimeout(ctx, d.defaultTimeout)
	defer cancel()

	res, err := d.driver.Invoke(opCtx, id, driver.OpPreview, driver.Params{})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// runBatch resolves targets, takes busy-locks, fans the operation out
// over a bounded pool and aggregates one outcome per requested id
func (d *Dispatcher) runBatch(ctx context.Context, kind models.JobKind, targetIDs []string, opts BatchOptions, op sessionOp) (*models.BatchResult, error) {
	targets := dedupe(targetIDs)
	if len(targets) == 0 {
		return nil, ErrEmptyTargets
	}

	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	result := &models.BatchResult{
		ID:         id,
		Kind:       kind,
		PerSession: make(models.OutcomeMap, len(targets)),
		StartedAt:  time.Now(),
	}

	// Pre-dispatch resolution: vanished targets and busy sessions are
	// settled immediately and never reach the pool.
	var dispatch []*models.Session
	for _, tid := range targets {
		sess, ok := d.registry.Get(tid)
		if !ok {
			result.PerSession[tid] = models.FailedOutcome(models.ErrorSessionGone, "session not present in registry")
			continue
		}
		if !d.registry.acquire(tid) {
			result.PerSession[tid] = models.SkippedOutcome(models.ErrorAlreadyBusy, "another command is executing against this session")
			continue
		}
		dispatch = append(dispatch, sess)
	}

	width := opts.Concurrency
	if width <= 0 || width > d.maxConcurrency {
		width = d.maxConcurrency
	}
	if width > len(dispatch) && len(dispatch) > 0 {
		width = len(dispatch)
	}

	timeout := opts.PerSessionTimeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	log.Debug().
		Str("batch", id.String()).
		Str("kind", string(kind)).
		Int("targets", len(targets)).
		Int("dispatch", len(dispatch)).
		Int("width", width).
		Dur("timeout", timeout).
		Msg("Dispatching batch")

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, max(width, 1))
	)

	for _, sess := range dispatch {
		sess := sess
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := d.executeOne(ctx, sess, timeout, op)
			d.registry.release(sess.ID)

			mu.Lock()
			result.PerSession[sess.ID] = outcome
			mu.Unlock()
		}()
	}

	// The only blocking join point: bounded by one perSessionTimeout,
	// since sessions run in parallel within the pool width.
	wg.Wait()
	result.FinishedAt = time.Now()

	s := result.Summary()
	log.Info().
		Str("batch", id.String()).
		Str("kind", string(kind)).
		Int("ok", s.Succeeded).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Dur("took", result.FinishedAt.Sub(result.StartedAt)).
		Msg("Batch settled")

	return result, nil
}

// executeOne runs the operation for one session with its own deadline
// and classifies the result. The busy-lock is held by the caller.
func (d *Dispatcher) executeOne(ctx context.Context, sess *models.Session, timeout time.Duration, op sessionOp) models.Outcome {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	payload, applied, err := op(opCtx, sess)
	elapsed := time.Since(start)

	if len(applied) > 0 {
		// values that reached the device stick even on partial failure
		d.registry.applySettings(sess.ID, applied)
	}

	var outcome models.Outcome
	switch {
	case err == nil:
		d.registry.setConnectivity(sess.ID, models.ConnectivityConnected, "")
		outcome = models.SuccessOutcome(payload)

	case errors.Is(err, context.DeadlineExceeded):
		d.registry.setConnectivity(sess.ID, models.ConnectivityError, "command deadline exceeded")
		outcome = models.FailedOutcome(models.ErrorTimeout,
			fmt.Sprintf("no response within %s", timeout))

	case errors.Is(err, context.Canceled):
		// a cancelled call that never settled is indistinguishable
		// from a timeout for the caller
		outcome = models.FailedOutcome(models.ErrorTimeout, "cancelled before completion")

	default:
		outcome = d.classifyDriverError(sess.ID, err)
	}

	outcome.ElapsedMs = elapsed.Milliseconds()
	return outcome
}

// classifyDriverError maps a driver failure onto the batch error
// taxonomy. Only communication-class failures downgrade connectivity;
// a camera declining a value stays Connected.
func (d *Dispatcher) classifyDriverError(id string, err error) models.Outcome {
	var opErr *driver.OpError
	if !errors.As(err, &opErr) {
		return models.FailedOutcome(models.ErrorUnknown, err.Error())
	}

	switch opErr.Kind {
	case driver.FailureRejected:
		return models.FailedOutcome(models.ErrorRejected, opErr.Message)
	case driver.FailureCommunicationLost, driver.FailureBusy:
		d.registry.setConnectivity(id, models.ConnectivityError, opErr.Message)
		return models.FailedOutcome(models.ErrorCommunicationLost, opErr.Message)
	default:
		return models.FailedOutcome(models.ErrorUnknown, opErr.Message)
	}
}

// captureOne captures and downloads one image. A session whose
// configured format falls outside the batch preference is not
// triggered; nothing is downloaded for it.
func (d *Dispatcher) captureOne(ctx context.Context, sess *models.Session, job models.CaptureJob) (string, models.Settings, error) {
	format := sess.Settings[models.SettingFormat]
	if job.FormatPreference != "" && format != "" && !naming.WantFormat(job.FormatPreference, format) {
		log.Debug().
			Str("session", sess.ID).
			Str("format", format).
			Str("preference", string(job.FormatPreference)).
			Msg("Capture format falls outside batch preference, not downloading")
		return fmt.Sprintf("download skipped: %s outside %s", format, job.FormatPreference), nil, nil
	}

	dest := d.namer.CapturePath(job.FilenamePrefix, sess.ID, time.Now(), format)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", nil, fmt.Errorf("create capture directory: %w", err)
	}

	res, err := d.driver.Invoke(ctx, sess.ID, driver.OpCapture, driver.Params{DestPath: dest})
	if err != nil {
		return "", nil, err
	}
	return res.Payload, nil, nil
}

// applySettingsOne pushes setting values to one device in a stable
// order, stopping at the first failure
func (d *Dispatcher) applySettingsOne(ctx context.Context, sess *models.Session, settings models.Settings) (string, models.Settings, error) {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, string(name))
	}
	sort.Strings(names)

	applied := make(models.Settings, len(settings))
	var parts []string
	for _, name := range names {
		setting := models.SettingName(name)
		value := settings[setting]

		_, err := d.driver.Invoke(ctx, sess.ID, driver.OpSetSetting, driver.Params{Setting: setting, Value: value})
		if err != nil {
			return "", applied, fmt.Errorf("set %s=%s: %w", name, value, err)
		}
		applied[setting] = value
		parts = append(parts, fmt.Sprintf("%s=%s", name, value))
	}
	return strings.Join(parts, " "), applied, nil
}

// refreshOne reads the known setting values back from one device
func (d *Dispatcher) refreshOne(ctx context.Context, sess *models.Session) (string, models.Settings, error) {
	fetched := make(models.Settings)
	for _, setting := range []models.SettingName{
		models.SettingISO,
		models.SettingAperture,
		models.SettingShutterSpeed,
		models.SettingFormat,
	} {
		res, err := d.driver.Invoke(ctx, sess.ID, driver.OpGetSetting, driver.Params{Setting: setting})
		if err != nil {
			var opErr *driver.OpError
			if errors.As(err, &opErr) && opErr.Kind == driver.FailureRejected {
				// camera simply has no such knob
				continue
			}
			return "", fetched, err
		}
		fetched[setting] = res.Payload
	}
	return fmt.Sprintf("%d settings", len(fetched)), fetched, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
