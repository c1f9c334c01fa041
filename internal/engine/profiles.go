package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/models"
)

// ProfileApplier pushes a named profile's setting values to a session
// subset through the dispatcher, optionally chaining into a capture
// batch over the successfully configured sessions.
type ProfileApplier struct {
	dispatcher *Dispatcher
}

// NewProfileApplier creates a profile applier over the dispatcher
func NewProfileApplier(d *Dispatcher) *ProfileApplier {
	return &ProfileApplier{dispatcher: d}
}

// ApplyReport carries the result of a profile apply. CaptureResult is
// nil when no capture was requested.
type ApplyReport struct {
	ProfileName   string              `json:"profileName"`
	ConfigResult  *models.BatchResult `json:"configResult"`
	CaptureResult *models.BatchResult `json:"captureResult,omitempty"`
}

// ApplyAndOptionallyCapture runs a setting-change batch built from the
// profile and, when captureAfter is set, a capture batch over the
// sessions whose configuration succeeded. Sessions that failed
// configuration appear in the capture result as Skipped(ConfigFailed):
// a misconfigured device must neither block capture on healthy devices
// nor capture with stale settings.
func (a *ProfileApplier) ApplyAndOptionallyCapture(
	ctx context.Context,
	profile *models.Profile,
	targetIDs []string,
	captureAfter bool,
	capture models.CaptureJob,
	opts BatchOptions,
) (*ApplyReport, error) {
	// copy-on-read: a concurrent profile edit must not leak into a
	// running apply
	p := profile.Clone()

	report := &ApplyReport{ProfileName: p.Name}

	configResult, err := a.dispatcher.RunSettingChange(ctx, models.SettingChangeJob{
		TargetSessionIDs: targetIDs,
		Settings:         p.SettingValues,
	}, opts)
	if err != nil {
		return nil, err
	}
	report.ConfigResult = configResult

	if !captureAfter {
		return report, nil
	}

	configured := configResult.SucceededIDs()
	log.Info().
		Str("profile", p.Name).
		Int("configured", len(configured)).
		Int("targets", len(configResult.PerSession)).
		Msg("Profile applied, starting chained capture")

	var captureResult *models.BatchResult
	if len(configured) > 0 {
		capture.TargetSessionIDs = configured
		captureResult, err = a.dispatcher.RunCapture(ctx, capture, BatchOptions{
			Concurrency:       opts.Concurrency,
			PerSessionTimeout: opts.PerSessionTimeout,
		})
		if err != nil {
			return nil, err
		}
	} else {
		captureResult = &models.BatchResult{
			ID:         uuid.New(),
			Kind:       models.JobKindCapture,
			PerSession: make(models.OutcomeMap, len(configResult.PerSession)),
			StartedAt:  configResult.FinishedAt,
			FinishedAt: configResult.FinishedAt,
		}
	}

	// every originally targeted session gets an entry in the capture
	// report, even the ones that never reached the capture step
	for id, outcome := range configResult.PerSession {
		if outcome.Status == models.OutcomeSuccess {
			continue
		}
		captureResult.PerSession[id] = models.SkippedOutcome(models.ErrorConfigFailed,
			"configuration did not succeed, capture not attempted")
	}
	report.CaptureResult = captureResult

	return report, nil
}
