package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/llm"
	"github.com/liamcoop/automations/rules"
)

func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:      "sqlite://:memory:",
		Port:             8080,
		CacheBackend:     config.CacheNone,
		CacheTTL:         time.Minute,
		Retry:            config.RetryConfig{Retries: 1, BaseDelay: time.Millisecond},
		HTTPTimeout:      time.Second,
		Chat:             config.ChatConfig{Provider: config.ChatNone},
		BatchConcurrency: 2,
		AutoMigrate:      true,
		EventsEnabled:    true,
	}
}

// TestNewWiresEngine verifies a sqlite-backed app can create and run a rule
func TestNewWiresEngine(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Bridge == nil || a.PubSub == nil {
		t.Fatal("expected event bridge to be wired")
	}

	threshold := 30.0
	rule := &rules.Rule{
		Name:    "Long Meeting Email",
		Enabled: true,
		Triggers: []rules.Trigger{
			{Kind: rules.TriggerDuration, Condition: rules.OpGreaterThan, ValueNumber: &threshold},
		},
		Actions: []rules.Action{{Kind: rules.ActionEmail, Config: map[string]any{"to": "team@example.com"}}},
	}
	if err := a.Engine.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	out, err := a.Engine.Run(ctx, rules.MeetingContext{Metadata: map[string]any{"duration": 45}}, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.TriggeredWorkflows) != 1 || out.TriggeredWorkflows[0] != "Long Meeting Email" {
		t.Errorf("unexpected triggered workflows: %v", out.TriggeredWorkflows)
	}

	stored, err := a.Store.Get(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ExecutionCount != 1 {
		t.Errorf("expected execution count 1, got %d", stored.ExecutionCount)
	}
}

// TestNewRejectsBadDatabaseURL verifies unsupported URLs fail fast
func TestNewRejectsBadDatabaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = "mysql://nope"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unsupported database URL")
	}
}

// TestNewChatCompleter verifies provider selection
func TestNewChatCompleter(t *testing.T) {
	c, err := NewChatCompleter(config.ChatConfig{Provider: config.ChatNone})
	if err != nil || c != nil {
		t.Errorf("expected no completer, got %v, %v", c, err)
	}

	c, err = NewChatCompleter(config.ChatConfig{Provider: config.ChatOpenAI, APIKey: "k", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := c.(*llm.OpenAI); !ok {
		t.Errorf("expected *llm.OpenAI, got %T", c)
	}

	c, err = NewChatCompleter(config.ChatConfig{Provider: config.ChatAnthropic, APIKey: "k"})
	if err != nil {
		t.Fatalf("anthropic: %v", err)
	}
	if _, ok := c.(*llm.Anthropic); !ok {
		t.Errorf("expected *llm.Anthropic, got %T", c)
	}

	if _, err := NewChatCompleter(config.ChatConfig{Provider: "gemini"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// TestDisableFromAnotherProcess verifies a rule disabled through a second app on
// the same database stops firing in the first one with the default config
func TestDisableFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.EventsEnabled = false
	cfg.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "automations.db")

	server, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New server failed: %v", err)
	}
	defer server.Close()
	operator, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New operator failed: %v", err)
	}
	defer operator.Close()

	threshold := 30.0
	rule := &rules.Rule{
		Name:     "Long Meeting Email",
		Enabled:  true,
		Triggers: []rules.Trigger{{Kind: rules.TriggerDuration, Condition: rules.OpGreaterThan, ValueNumber: &threshold}},
		Actions:  []rules.Action{{Kind: rules.ActionEmail, Config: map[string]any{"to": "team@example.com"}}},
	}
	if err := operator.Engine.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	mc := rules.MeetingContext{Metadata: map[string]any{"duration": 45}}
	if out, err := server.Engine.Run(ctx, mc, ""); err != nil || len(out.TriggeredWorkflows) != 1 {
		t.Fatalf("expected the rule to fire, got %+v, %v", out, err)
	}

	if err := operator.Engine.SetRuleEnabled(ctx, rule.ID, false); err != nil {
		t.Fatalf("SetRuleEnabled failed: %v", err)
	}
	out, err := server.Engine.Run(ctx, mc, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.TriggeredWorkflows) != 0 {
		t.Errorf("disabled rule still fired: %v", out.TriggeredWorkflows)
	}

	stored, err := server.Store.Get(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ExecutionCount != 1 {
		t.Errorf("expected execution count 1, got %d", stored.ExecutionCount)
	}
}
