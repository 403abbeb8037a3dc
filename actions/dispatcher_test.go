package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamcoop/automations/httpretry"
	"github.com/liamcoop/automations/llm"
	"github.com/liamcoop/automations/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func meeting() rules.MeetingContext {
	return rules.MeetingContext{
		Transcript: "Alice: let's ship it",
		Summary:    "Team agreed to ship. Action: Bob writes release notes.",
		Metadata:   map[string]any{"duration": 45.0, "sentiment": "positive"},
	}
}

func noRetryClient() *httpretry.Client {
	p := httpretry.DefaultPolicy()
	p.Retries = 0
	return httpretry.NewClient(httpretry.WithPolicy(p))
}

func newTestDispatcher(opts ...Option) *Dispatcher {
	base := []Option{WithClock(func() time.Time { return fixedNow }), WithHTTPClient(noRetryClient())}
	return New(append(base, opts...)...)
}

// TestPreviewKinds verifies the notification kinds succeed with a preview payload
func TestPreviewKinds(t *testing.T) {
	d := newTestDispatcher()
	for _, kind := range []rules.ActionKind{rules.ActionEmail, rules.ActionChatMessage, rules.ActionCalendarEvent, rules.ActionTask} {
		t.Run(string(kind), func(t *testing.T) {
			res, err := d.Dispatch(context.Background(), rules.Action{Kind: kind}, meeting())
			require.NoError(t, err)
			assert.True(t, res.Success)
			data, ok := res.Data.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "preview", data["status"])
			assert.Equal(t, string(kind), data["type"])
		})
	}
}

// TestEmailPreviewUsesConfig verifies recipients and subject come from the config
func TestEmailPreviewUsesConfig(t *testing.T) {
	res, err := newTestDispatcher().Dispatch(context.Background(), rules.Action{
		Kind:   rules.ActionEmail,
		Config: map[string]any{"to": []any{"a@example.com", "b@example.com"}, "subject": "Recap"},
	}, meeting())
	require.NoError(t, err)
	data := res.Data.(map[string]any)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, data["to"])
	assert.Equal(t, "Recap", data["subject"])
	assert.Equal(t, meeting().Summary, data["body"])
}

// TestWebhookPostsEvent verifies the body shape and merged headers
func TestWebhookPostsEvent(t *testing.T) {
	var body map[string]any
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("X-Token")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := newTestDispatcher().Dispatch(context.Background(), rules.Action{
		Kind: rules.ActionWebhook,
		Config: map[string]any{
			"url":     srv.URL,
			"headers": map[string]any{"X-Token": "secret"},
		},
	}, meeting())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"status": http.StatusOK, "ok": true}, res.Data)

	assert.Equal(t, "secret", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, WebhookEvent, body["event"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), body["timestamp"])
	ctxBody := body["context"].(map[string]any)
	assert.Equal(t, meeting().Summary, ctxBody["summary"])
	assert.Equal(t, meeting().Transcript, ctxBody["transcript"])
}

// TestWebhookErrorStatus verifies a reached endpoint that fails is not an error
func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := newTestDispatcher().Dispatch(context.Background(), rules.Action{
		Kind:   rules.ActionWebhook,
		Config: map[string]any{"url": srv.URL},
	}, meeting())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, map[string]any{"status": http.StatusInternalServerError, "ok": false}, res.Data)
	assert.Contains(t, res.Message, "500")
}

// TestWebhookUnreachable verifies transport failures become an ActionError with the cause inside
func TestWebhookUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestDispatcher().Dispatch(context.Background(), rules.Action{
		Kind:   rules.ActionWebhook,
		Config: map[string]any{"url": url},
	}, meeting())
	require.Error(t, err)

	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, rules.ActionWebhook, ae.Kind)
	var te *httpretry.TransportError
	assert.ErrorAs(t, err, &te)
}

// TestWebhookRequiresURL verifies config is validated when the action runs
func TestWebhookRequiresURL(t *testing.T) {
	_, err := newTestDispatcher().Dispatch(context.Background(), rules.Action{
		Kind:   rules.ActionWebhook,
		Config: map[string]any{"headers": map[string]any{}},
	}, meeting())
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, err.Error(), "url")
}

// TestAIReanalysis verifies the prompt, the user message and the returned analysis
func TestAIReanalysis(t *testing.T) {
	var got []llm.Message
	var gotOpts llm.Options
	chat := llm.Func(func(_ context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
		got = msgs
		gotOpts = opts
		return "shipping risk is low", nil
	})

	res, err := newTestDispatcher(WithChatCompleter(chat)).Dispatch(context.Background(), rules.Action{
		Kind:   rules.ActionAIReanalysis,
		Config: map[string]any{"model": "gpt-4o", "max_tokens": 256},
	}, meeting())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, map[string]any{"analysis": "shipping risk is low"}, res.Data)

	require.Len(t, got, 2)
	assert.Equal(t, llm.RoleSystem, got[0].Role)
	assert.Equal(t, DefaultAnalysisPrompt, got[0].Content)
	assert.Equal(t, "Summary: "+meeting().Summary+"\n\nTranscript: "+meeting().Transcript, got[1].Content)
	assert.Equal(t, "gpt-4o", gotOpts.Model)
	assert.Equal(t, int64(256), gotOpts.MaxTokens)
	assert.Nil(t, gotOpts.Temperature)
}

// TestAIReanalysisFailures verifies completer errors and a missing completer are ActionErrors
func TestAIReanalysisFailures(t *testing.T) {
	action := rules.Action{Kind: rules.ActionAIReanalysis}

	_, err := newTestDispatcher().Dispatch(context.Background(), action, meeting())
	require.ErrorIs(t, err, ErrNoChatCompleter)

	boom := errors.New("rate limited")
	chat := llm.Func(func(context.Context, []llm.Message, llm.Options) (string, error) { return "", boom })
	_, err = newTestDispatcher(WithChatCompleter(chat)).Dispatch(context.Background(), action, meeting())
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, boom)
}

// TestUnknownKind verifies an unsupported kind fails immediately
func TestUnknownKind(t *testing.T) {
	_, err := newTestDispatcher().Dispatch(context.Background(), rules.Action{Kind: "fax"}, meeting())
	require.ErrorIs(t, err, rules.ErrUnknownActionKind)
}

// TestEveryActionKindHasHandler verifies no supported kind falls through to the unknown branch
func TestEveryActionKindHasHandler(t *testing.T) {
	d := newTestDispatcher()
	for _, kind := range rules.ActionKinds {
		handler, ok := d.handler(kind)
		assert.True(t, ok, "kind %s has no handler", kind)
		assert.NotNil(t, handler, "kind %s has a nil handler", kind)
	}

	_, ok := d.handler("fax")
	assert.False(t, ok)
}
