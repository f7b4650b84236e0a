package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound audit events.
const webhookQueueSize = 1024

// webhookEvent is the JSON payload POSTed to the external endpoint.
type webhookEvent struct {
	Event      string            `json:"event"`
	AccountID  string            `json:"account_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

func newWebhookEvent(event AuditEvent, r *http.Request, at time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:      string(event),
		RemoteAddr: r.RemoteAddr,
		Timestamp:  at.Format(time.RFC3339),
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			evt.AccountID = attr.Value.String()
			continue
		}
		if evt.Attrs == nil {
			evt.Attrs = make(map[string]string, len(attrs))
		}
		evt.Attrs[attr.Key] = attr.Value.String()
	}
	return evt
}

// auditWebhook dispatches audit events to an external HTTP endpoint.
// Events are enqueued non-blockingly into a bounded channel and sent
// by a background goroutine. If the channel is full, events are dropped.
type auditWebhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan webhookEvent
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// newAuditWebhook creates a webhook dispatcher and starts its background loop.
func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &auditWebhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: time.Second,
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// enqueue adds an event to the dispatch queue. If the queue is full, the
// event is dropped and a warning is logged. This method never blocks.
func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close shuts down the dispatcher after draining queued events.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.events)
		w.wg.Wait()
	})
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send POSTs the event to the configured URL with one retry on 5xx or a
// transport error.
func (w *auditWebhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		status, err := w.post(body)
		switch {
		case err != nil:
			w.logger.Warn("request failed", "error", err, "attempt", attempt)
		case status >= 200 && status < 300:
			return
		case status >= 500:
			w.logger.Warn("server error", "status", status, "attempt", attempt)
		default:
			w.logger.Warn("client error", "status", status)
			return
		}
	}
}

func (w *auditWebhook) post(body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RecoveryDesk-Audit-Webhook/1.0")
	if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
