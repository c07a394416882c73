// Package notify delivers best-effort admin alerts over a JSON webhook and email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

type Mailer interface {
	SendAlert(to, message string) error
}

type Config struct {
	WebhookURL string
	AdminEmail string
	Timeout    time.Duration
}

type Notifier struct {
	cfg    Config
	client *http.Client
	mailer Mailer
	wg     sync.WaitGroup
}

// New returns a notifier. mailer may be nil to disable email.
func New(cfg Config, mailer Mailer) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		mailer: mailer,
	}
}

func (n *Notifier) Enabled() bool {
	return n.cfg.WebhookURL != "" || (n.mailer != nil && n.cfg.AdminEmail != "")
}

// Notify fans the message out without blocking. Failures are logged.
func (n *Notifier) Notify(message string) {
	if n.cfg.WebhookURL != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
			defer cancel()
			if err := n.postWebhook(ctx, message); err != nil {
				log.Printf("notify: webhook: %v", err)
			}
		}()
	}
	if n.mailer != nil && n.cfg.AdminEmail != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.mailer.SendAlert(n.cfg.AdminEmail, message); err != nil {
				log.Printf("notify: email: %v", err)
			}
		}()
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type webhookPayload struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

func (n *Notifier) postWebhook(ctx context.Context, message string) error {
	body, err := json.Marshal(webhookPayload{Text: message, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
