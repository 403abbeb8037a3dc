// Package actions performs the side effects of fired rules: previews for the
// notification kinds, real webhook calls and AI re-analysis of the meeting.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liamcoop/automations/httpretry"
	"github.com/liamcoop/automations/llm"
	"github.com/liamcoop/automations/rules"
)

const (
	// WebhookEvent tags every webhook body
	WebhookEvent = "meeting.automation"
	// DefaultAnalysisPrompt is the system prompt of ai_reanalysis actions without one
	DefaultAnalysisPrompt = "analyze this meeting content and provide insights"

	defaultWebhookTimeout = 10 * time.Second
)

// ErrNoChatCompleter is returned by ai_reanalysis actions when no model is configured
var ErrNoChatCompleter = errors.New("no chat completer configured")

// ActionError is returned when an action could not be performed
type ActionError struct {
	Kind rules.ActionKind
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

type handlerFunc func(ctx context.Context, config map[string]any, mc rules.MeetingContext) (rules.ActionResult, error)

// Dispatcher runs actions by kind. It implements rules.Dispatcher.
type Dispatcher struct {
	client         *httpretry.Client
	chat           llm.ChatCompleter
	now            func() time.Time
	logger         *slog.Logger
	webhookTimeout time.Duration
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient sets the client used for webhooks
func WithHTTPClient(c *httpretry.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithChatCompleter enables ai_reanalysis actions
func WithChatCompleter(c llm.ChatCompleter) Option {
	return func(d *Dispatcher) { d.chat = c }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the dispatcher logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithWebhookTimeout bounds every webhook attempt unless the action sets timeout_seconds
func WithWebhookTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.webhookTimeout = t }
}

// New creates a Dispatcher
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		now:            time.Now,
		logger:         slog.Default(),
		webhookTimeout: defaultWebhookTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = httpretry.NewClient(httpretry.WithLogger(d.logger))
	}
	d.logger = d.logger.With("module", "action_dispatcher")
	return d
}

// handler returns the handler for kind; every rules.ActionKind has a case
func (d *Dispatcher) handler(kind rules.ActionKind) (handlerFunc, bool) {
	switch kind {
	case rules.ActionEmail:
		return d.email, true
	case rules.ActionChatMessage:
		return d.chatMessage, true
	case rules.ActionCalendarEvent:
		return d.calendarEvent, true
	case rules.ActionTask:
		return d.task, true
	case rules.ActionWebhook:
		return d.webhook, true
	case rules.ActionAIReanalysis:
		return d.aiReanalysis, true
	default:
		return nil, false
	}
}

// Dispatch validates the action config and runs the handler for its kind
func (d *Dispatcher) Dispatch(ctx context.Context, action rules.Action, mc rules.MeetingContext) (rules.ActionResult, error) {
	handler, ok := d.handler(action.Kind)
	if !ok {
		return rules.ActionResult{}, &ActionError{
			Kind: action.Kind,
			Err:  fmt.Errorf("%w: %q", rules.ErrUnknownActionKind, action.Kind),
		}
	}

	if err := validateConfig(action.Kind, action.Config); err != nil {
		return rules.ActionResult{}, &ActionError{Kind: action.Kind, Err: err}
	}

	result, err := handler(ctx, action.Config, mc)
	if err != nil {
		return rules.ActionResult{}, &ActionError{Kind: action.Kind, Err: err}
	}
	return result, nil
}

func (d *Dispatcher) email(_ context.Context, config map[string]any, mc rules.MeetingContext) (rules.ActionResult, error) {
	return preview(map[string]any{
		"type":    string(rules.ActionEmail),
		"to":      stringsOf(config, "to"),
		"subject": stringOr(config, "subject", "Meeting follow-up"),
		"body":    stringOr(config, "body", mc.Summary),
	}), nil
}

func (d *Dispatcher) chatMessage(_ context.Context, config map[string]any, mc rules.MeetingContext) (rules.ActionResult, error) {
	return preview(map[string]any{
		"type":    string(rules.ActionChatMessage),
		"channel": stringOr(config, "channel", "general"),
		"message": stringOr(config, "message", mc.Summary),
	}), nil
}

func (d *Dispatcher) calendarEvent(_ context.Context, config map[string]any, _ rules.MeetingContext) (rules.ActionResult, error) {
	minutes := 30.0
	if v, ok := config["duration_minutes"]; ok {
		if f, ok := toFloat(v); ok {
			minutes = f
		}
	}
	return preview(map[string]any{
		"type":             string(rules.ActionCalendarEvent),
		"title":            stringOr(config, "title", "Follow-up meeting"),
		"duration_minutes": minutes,
		"attendees":        stringsOf(config, "attendees"),
	}), nil
}

func (d *Dispatcher) task(_ context.Context, config map[string]any, mc rules.MeetingContext) (rules.ActionResult, error) {
	return preview(map[string]any{
		"type":        string(rules.ActionTask),
		"title":       stringOr(config, "title", "Meeting follow-up"),
		"assignee":    stringOr(config, "assignee", ""),
		"due":         stringOr(config, "due", ""),
		"description": mc.Summary,
	}), nil
}

// webhookBody is posted to webhook endpoints
type webhookBody struct {
	Event     string               `json:"event"`
	Context   rules.MeetingContext `json:"context"`
	Timestamp string               `json:"timestamp"`
}

func (d *Dispatcher) webhook(ctx context.Context, config map[string]any, mc rules.MeetingContext) (rules.ActionResult, error) {
	url := stringOr(config, "url", "")

	headers := map[string]string{}
	if raw, ok := config["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	timeout := d.webhookTimeout
	if v, ok := config["timeout_seconds"]; ok {
		if f, ok := toFloat(v); ok {
			timeout = time.Duration(f * float64(time.Second))
		}
	}

	body := webhookBody{
		Event:     WebhookEvent,
		Context:   mc,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}

	resp, err := d.client.PostJSON(ctx, url, body, headers, httpretry.WithAttemptTimeout(timeout))
	if err != nil {
		return rules.ActionResult{}, err
	}

	d.logger.DebugContext(ctx, "webhook delivered", "url", url, "status", resp.StatusCode)

	result := rules.ActionResult{
		Success: resp.OK(),
		Data:    map[string]any{"status": resp.StatusCode, "ok": resp.OK()},
	}
	if !resp.OK() {
		result.Message = fmt.Sprintf("webhook responded with status %d", resp.StatusCode)
	}
	return result, nil
}

func (d *Dispatcher) aiReanalysis(ctx context.Context, config map[string]any, mc rules.MeetingContext) (rules.ActionResult, error) {
	if d.chat == nil {
		return rules.ActionResult{}, ErrNoChatCompleter
	}

	var opts llm.Options
	opts.Model = stringOr(config, "model", "")
	if v, ok := config["temperature"]; ok {
		if f, ok := toFloat(v); ok {
			opts.Temperature = &f
		}
	}
	if v, ok := config["max_tokens"]; ok {
		if f, ok := toFloat(v); ok {
			opts.MaxTokens = int64(f)
		}
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: stringOr(config, "prompt", DefaultAnalysisPrompt)},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Summary: %s\n\nTranscript: %s", mc.Summary, mc.Transcript)},
	}

	text, err := d.chat.ChatComplete(ctx, messages, opts)
	if err != nil {
		return rules.ActionResult{}, err
	}
	return rules.ActionResult{
		Success: true,
		Data:    map[string]any{"analysis": text},
	}, nil
}

func preview(payload map[string]any) rules.ActionResult {
	payload["status"] = "preview"
	return rules.ActionResult{Success: true, Data: payload}
}

func stringOr(config map[string]any, key, fallback string) string {
	if s, ok := config[key].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}

func stringsOf(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
