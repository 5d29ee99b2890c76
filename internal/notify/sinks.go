package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"reviewflow/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs each event as JSON.
type WebhookSink struct {
	hook   config.WebhookConfig
	client *http.Client
	filter eventFilter
}

func NewWebhookSink(hook config.WebhookConfig) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		hook:   hook,
		client: &http.Client{Timeout: timeout},
		filter: newEventFilter(hook.Events),
	}
}

func (w *WebhookSink) Name() string {
	if w.hook.Name != "" {
		return "webhook:" + w.hook.Name
	}
	return "webhook:" + w.hook.URL
}

func (w *WebhookSink) Accepts(eventType string) bool {
	return w.filter.match(eventType)
}

func (w *WebhookSink) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewflow-Event", msg.Type)
	req.Header.Set("X-Reviewflow-Delivery", fmt.Sprintf("%d", msg.ID))
	if strings.TrimSpace(w.hook.Secret) != "" {
		req.Header.Set("X-Reviewflow-Secret", w.hook.Secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes each event on <prefix>.<event type>.
type NATSSink struct {
	conn   Publisher
	prefix string
}

func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "reviewflow"
	}
	return &NATSSink{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("reviewflow"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("notify: nats disconnected", "error", err)
			}
		}),
	)
}

func (n *NATSSink) Name() string { return "nats" }

func (n *NATSSink) Accepts(string) bool { return true }

func (n *NATSSink) Subject(eventType string) string {
	return n.prefix + "." + eventType
}

func (n *NATSSink) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.Subject(msg.Type), data); err != nil {
		return err
	}
	// Publish only buffers; the flush confirms the server has the message.
	return n.conn.FlushWithContext(ctx)
}

// LogSink writes each event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Accepts(string) bool { return true }

func (l *LogSink) Publish(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "review event",
		"id", msg.ID,
		"type", msg.Type,
		"item_id", msg.ItemID,
		"actor_id", msg.ActorID,
		"old_status", msg.OldStatus,
		"new_status", msg.NewStatus,
		"assignees", msg.Assignees,
	)
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

// BuildSinks creates the sinks enabled in cfg. conn may be nil when NATS is
// not configured.
func BuildSinks(cfg config.NotificationsConfig, conn Publisher, logger *slog.Logger) []Sink {
	var sinks []Sink
	if cfg.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook))
	}
	if conn != nil {
		sinks = append(sinks, NewNATSSink(conn, cfg.NATS.SubjectPrefix))
	}
	return sinks
}
