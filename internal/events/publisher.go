// Package events publishes engine events over NATS so UI layers and
// integrations learn about batch settlements without polling.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/models"
)

// Subjects:
//
//	camfleet.batch.<id>.completed
//	camfleet.session.<id>.status
//	camfleet.autocapture.tick
const subjectPrefix = "camfleet"

// Publisher publishes engine events to NATS. It satisfies
// engine.Notifier.
type Publisher struct {
	nc *nats.Conn
}

// Connect dials NATS with reconnect handling and returns a publisher
func Connect(cfg *config.NATSConfig, name string) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewPublisher(nc), nil
}

// NewPublisher wraps an existing connection
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Close drains the connection
func (p *Publisher) Close() {
	p.nc.Close()
}

// BatchCompleted publishes a settled batch result
func (p *Publisher) BatchCompleted(result *models.BatchResult) {
	subject := fmt.Sprintf("%s.batch.%s.completed", subjectPrefix, result.ID)
	p.publish(subject, map[string]interface{}{
		"result":  result,
		"summary": result.Summary(),
	})
}

// SessionStatus publishes a session connectivity change
func (p *Publisher) SessionStatus(session *models.Session) {
	subject := fmt.Sprintf("%s.session.%s.status", subjectPrefix, sanitizeToken(session.ID))
	p.publish(subject, session)
}

// AutoCaptureTick publishes the result of one auto-capture tick
func (p *Publisher) AutoCaptureTick(result *models.BatchResult, missed int) {
	subject := fmt.Sprintf("%s.autocapture.tick", subjectPrefix)
	p.publish(subject, map[string]interface{}{
		"result":      result,
		"summary":     result.Summary(),
		"missedTicks": missed,
	})
}

func (p *Publisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}
	log.Debug().Str("subject", subject).Int("size", len(data)).Msg("Published event")
}

// sanitizeToken makes a device id usable as one NATS subject token
func sanitizeToken(id string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(id)
}
