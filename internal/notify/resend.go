package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const resendAPI = "https://api.resend.com/emails"

type ResendConfig struct {
	APIKey string
	From   string
	// Endpoint overrides the API URL.
	Endpoint string
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

// Resend sends confirmations through the Resend HTTP API.
type Resend struct {
	cfg    ResendConfig
	client *http.Client
	log    *slog.Logger
}

var _ Sender = (*Resend)(nil)

func NewResend(cfg ResendConfig, log *slog.Logger) *Resend {
	if cfg.Endpoint == "" {
		cfg.Endpoint = resendAPI
	}
	return &Resend{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// SendRegistration posts one email. The idempotency key is the ticket code
// plus its generation, so retries within a generation are delivered at most
// once while an explicit resend still goes out.
func (r *Resend) SendRegistration(ctx context.Context, c Confirmation) error {
	const op = "notify.Resend.SendRegistration"

	html, err := renderHTML(c)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	body, err := json.Marshal(resendEmail{
		From:    r.cfg.From,
		To:      []string{c.To},
		Subject: subject(c),
		HTML:    html,
		Text:    renderText(c),
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(c))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s:%w: %v", op, ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s:%w: %s %s", op, ErrDeliveryFailed, resp.Status, bytes.TrimSpace(msg))
	}

	r.log.Info("confirmation sent", slog.String("ticket_code", c.TicketCode))

	return nil
}

func idempotencyKey(c Confirmation) string {
	if c.Generation <= 1 {
		return "ticket-" + c.TicketCode
	}
	return fmt.Sprintf("ticket-%s-%d", c.TicketCode, c.Generation)
}
