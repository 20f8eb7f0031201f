// Package whatsapp delivers message bodies to patients through one of the
// supported WhatsApp providers.
package whatsapp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/therapycompanion/reminders/internal/config"
)

// Sender delivers body to an E.164 phone number and returns the provider's
// message id.
type Sender interface {
	Send(ctx context.Context, phone, body string) (string, error)
}

const defaultTimeout = 10 * time.Second

// New builds the sender selected by cfg.Provider.
func New(cfg config.WhatsAppConfig, log zerolog.Logger) (Sender, error) {
	hc := &http.Client{Timeout: defaultTimeout}

	switch cfg.Provider {
	case "", "devlog":
		return NewDevLog(log), nil
	case "webhook":
		return NewWebhookClient(cfg.WebhookURL), nil
	case "green_api":
		return NewGreenAPIClient(cfg.GreenAPIURL, cfg.GreenAPIInstanceID, cfg.GreenAPIToken, hc), nil
	case "twilio":
		return NewTwilioClient(cfg.TwilioURL, cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, hc), nil
	}
	return nil, fmt.Errorf("unknown whatsapp provider %q", cfg.Provider)
}

// do sends req and returns the body when the status matches want.
func do(hc *http.Client, req *http.Request, want int) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != want {
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(bytes.TrimSpace(body)))
	}
	return body, nil
}
