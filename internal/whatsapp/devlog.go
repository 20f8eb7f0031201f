package whatsapp

import (
	"context"

	"github.com/rs/zerolog"
)

const DevLogMessageID = "dev-log"

// DevLog writes messages to the log instead of delivering them.
type DevLog struct {
	log zerolog.Logger
}

func NewDevLog(log zerolog.Logger) *DevLog {
	return &DevLog{log: log.With().Str("provider", "devlog").Logger()}
}

func (d *DevLog) Send(_ context.Context, phone, body string) (string, error) {
	d.log.Info().Str("phone", phone).Str("body", body).Msg("whatsapp message not delivered (dev-log)")
	return DevLogMessageID, nil
}
