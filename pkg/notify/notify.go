package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Payload is the minimal push contract: recipients, title, body and
// free-form string metadata. Delivery is best-effort; failures are the
// caller's to log, never to surface.
type Payload struct {
	Tokens []string          `json:"registration_ids"`
	Title  string            `json:"-"`
	Body   string            `json:"-"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notifier is the boundary to the external push delivery collaborator.
type Notifier interface {
	Send(ctx context.Context, payload Payload) error
}

// HTTPNotifier posts multicast pushes to an FCM-compatible endpoint.
type HTTPNotifier struct {
	endpoint  string
	serverKey string
	client    *http.Client
	logger    *slog.Logger
}

func NewHTTPNotifier(endpoint, serverKey string, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

func (n *HTTPNotifier) Send(ctx context.Context, payload Payload) error {
	if len(payload.Tokens) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"registration_ids": payload.Tokens,
		"notification": map[string]string{
			"title": payload.Title,
			"body":  payload.Body,
			"sound": "default",
		},
		"data":     payload.Data,
		"priority": "high",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+n.serverKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	n.logger.Info("push notification sent", "recipients", len(payload.Tokens))
	return nil
}

// NopNotifier discards pushes. Used when no push endpoint is
// configured and in tests.
type NopNotifier struct{}

func (NopNotifier) Send(context.Context, Payload) error { return nil }
