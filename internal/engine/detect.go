package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/models"
)

// portForgetter is implemented by drivers that cache per-port state
// which must be dropped on a reset/detect cycle
type portForgetter interface {
	ForgetPort(port string)
}

// Detect asks the driver for reachable devices and reconciles the
// registry: new devices become Connected sessions, known devices
// refresh their display name, devices missing from the scan are
// downgraded to Disconnected but never auto-removed. Newly seen or
// recovering sessions get their settings read back through a refresh
// batch.
func (e *Engine) Detect(ctx context.Context) ([]*models.Session, error) {
	detectCtx, cancel := context.WithTimeout(ctx, e.detectTimeout)
	defer cancel()

	infos, err := e.driver.Detect(detectCtx)
	if err != nil {
		// discovery failure is non-fatal: the registry keeps its view
		log.Error().Err(err).Msg("Device detection failed")
		return e.registry.Snapshot(), fmt.Errorf("detect devices: %w", err)
	}

	seen := make(map[string]struct{}, len(infos))
	var refresh []string
	for _, info := range infos {
		seen[info.ID] = struct{}{}

		existing, ok := e.registry.Get(info.ID)
		switch {
		case !ok:
			log.Info().Str("id", info.ID).Str("model", info.DisplayName).Msg("Found new device")
			e.registry.Upsert(&models.Session{
				ID:           info.ID,
				DisplayName:  info.DisplayName,
				Connectivity: models.ConnectivityConnected,
				Settings:     models.Settings{},
				LastSeen:     time.Now(),
			})
			refresh = append(refresh, info.ID)

		case existing.Connectivity != models.ConnectivityConnected:
			log.Info().Str("id", info.ID).Str("model", info.DisplayName).Msg("Device reconnected")
			// in-place update: a batch settling concurrently must not
			// have its setting results clobbered by a stale clone
			e.registry.refreshIdentity(info.ID, info.DisplayName)
			e.registry.setConnectivity(info.ID, models.ConnectivityConnected, "")
			refresh = append(refresh, info.ID)

		default:
			e.registry.refreshIdentity(info.ID, info.DisplayName)
		}
	}

	for _, id := range e.registry.IDs() {
		if _, ok := seen[id]; !ok {
			e.registry.setConnectivity(id, models.ConnectivityDisconnected, "not detected in last scan")
		}
	}

	if len(refresh) > 0 {
		if _, err := e.dispatcher.RunRefresh(ctx, refresh, BatchOptions{}); err != nil {
			log.Error().Err(err).Msg("Setting refresh batch rejected")
		}
	}

	return e.registry.Snapshot(), nil
}

// Reset destroys every session and runs a fresh detection cycle. This
// is the only path that removes sessions from the registry.
func (e *Engine) Reset(ctx context.Context) ([]*models.Session, error) {
	ids := e.registry.IDs()
	e.registry.Clear()

	if f, ok := e.driver.(portForgetter); ok {
		for _, id := range ids {
			f.ForgetPort(id)
		}
	}

	log.Info().Int("removed", len(ids)).Msg("Registry reset, re-detecting")
	return e.Detect(ctx)
}
