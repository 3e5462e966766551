package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/BayajidAlam/node-fleet/pkg/log"
)

const (
	deliveryTimeout  = 10 * time.Second
	deliveryAttempts = 3
	queueDepth       = 100
)

// Webhook posts events as JSON to a configured endpoint. Events queue on
// a buffered channel and a single goroutine drains it, so callers never
// block on a slow sink; a full queue drops the event.
type Webhook struct {
	url    string
	client *http.Client

	eventCh chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}

	logger zerolog.Logger
}

// NewWebhook creates a webhook notifier and starts its delivery loop.
func NewWebhook(url string) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: deliveryTimeout},
		eventCh: make(chan Event, queueDepth),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  log.WithComponent("notify"),
	}
	go w.run()
	return w
}

// Notify queues an event for delivery.
func (w *Webhook) Notify(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case w.eventCh <- event:
	default:
		w.logger.Warn().Str("reason", string(event.Reason)).Msg("Notification queue full, dropping event")
	}
}

// Close stops the delivery loop after draining queued events.
func (w *Webhook) Close() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Webhook) run() {
	defer close(w.doneCh)
	for {
		select {
		case event := <-w.eventCh:
			w.deliver(event)
		case <-w.stopCh:
			for {
				select {
				case event := <-w.eventCh:
					w.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to encode notification")
		return
	}

	err = retry.Do(
		func() error { return w.post(body) },
		retry.Attempts(deliveryAttempts),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		w.logger.Warn().Err(err).
			Str("kind", string(event.Kind)).
			Str("reason", string(event.Reason)).
			Msg("Notification delivery failed")
	}
}

func (w *Webhook) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
