package rules

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TriggerKind identifies how a Trigger is matched against a meeting
type TriggerKind string

const (
	TriggerKeyword     TriggerKind = "keyword"
	TriggerSentiment   TriggerKind = "sentiment"
	TriggerSpeaker     TriggerKind = "speaker"
	TriggerDuration    TriggerKind = "duration"
	TriggerTopic       TriggerKind = "topic"
	TriggerActionItems TriggerKind = "action_items"
)

// TriggerKinds lists every supported trigger kind
var TriggerKinds = []TriggerKind{
	TriggerKeyword,
	TriggerSentiment,
	TriggerSpeaker,
	TriggerDuration,
	TriggerTopic,
	TriggerActionItems,
}

// Valid reports whether k is one of the supported trigger kinds
func (k TriggerKind) Valid() bool {
	for _, known := range TriggerKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Duration comparison operators, carried in Trigger.Condition
const (
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpEquals      = "equals"
)

// ActionKind identifies which side effect an Action performs
type ActionKind string

const (
	ActionEmail         ActionKind = "email"
	ActionChatMessage   ActionKind = "chat_message"
	ActionCalendarEvent ActionKind = "calendar_event"
	ActionTask          ActionKind = "task"
	ActionWebhook       ActionKind = "webhook"
	ActionAIReanalysis  ActionKind = "ai_reanalysis"
)

// ActionKinds lists every supported action kind
var ActionKinds = []ActionKind{
	ActionEmail,
	ActionChatMessage,
	ActionCalendarEvent,
	ActionTask,
	ActionWebhook,
	ActionAIReanalysis,
}

// Valid reports whether k is one of the supported action kinds
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Rule is a named automation: when any trigger matches, every action runs.
// Triggers and Actions are ordered; a persisted rule always has at least one of each.
type Rule struct {
	ID             string     `json:"id" yaml:"id,omitempty"`
	Name           string     `json:"name" yaml:"name" validate:"required,max=200"`
	Description    string     `json:"description" yaml:"description,omitempty"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	ExecutionCount int64      `json:"execution_count" yaml:"-"`
	LastTriggered  *time.Time `json:"last_triggered,omitempty" yaml:"-"`
	CreatedAt      time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"-"`
	Triggers       []Trigger  `json:"triggers" yaml:"triggers" validate:"required,min=1,dive"`
	Actions        []Action   `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
}

// Trigger is a single matching condition of a Rule.
// Condition holds the keyword, sentiment label, topic or, for duration
// triggers, the comparison operator. ValueNumber is the duration threshold.
type Trigger struct {
	ID          string      `json:"id" yaml:"id,omitempty"`
	Kind        TriggerKind `json:"kind" yaml:"kind" validate:"required,trigger_kind"`
	Condition   string      `json:"condition" yaml:"condition"`
	ValueText   string      `json:"value_text,omitempty" yaml:"value_text,omitempty"`
	ValueNumber *float64    `json:"value_number,omitempty" yaml:"value_number,omitempty"`
}

// Number returns the numeric comparison value of the trigger.
// ValueNumber wins; otherwise ValueText is parsed.
func (t Trigger) Number() (float64, bool) {
	if t.ValueNumber != nil {
		return *t.ValueNumber, true
	}
	if t.ValueText == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(t.ValueText), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Action is a single side effect of a Rule. Config is interpreted only by the dispatcher.
type Action struct {
	ID     string         `json:"id" yaml:"id,omitempty"`
	Kind   ActionKind     `json:"kind" yaml:"kind" validate:"required,action_kind"`
	Config map[string]any `json:"config" yaml:"config"`
}

// MeetingContext is the content of a completed meeting that rules are evaluated against
type MeetingContext struct {
	Transcript string         `json:"transcript"`
	Summary    string         `json:"summary"`
	Metadata   map[string]any `json:"metadata"`
}

// Metadata keys read by the trigger evaluator
const (
	MetaDuration  = "duration"
	MetaSentiment = "sentiment"
)

// Duration returns the meeting duration in minutes, or 0 when absent or unreadable
func (mc MeetingContext) Duration() float64 {
	switch v := mc.Metadata[MetaDuration].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Sentiment returns the sentiment label, or "" when absent
func (mc MeetingContext) Sentiment() string {
	s, _ := mc.Metadata[MetaSentiment].(string)
	return s
}

// ActionResult is what a dispatcher reports for one action
type ActionResult struct {
	Success bool
	Data    any
	// Message explains a reached-but-unsuccessful result, e.g. a webhook 5xx
	Message string
}

// ActionOutcome records one attempted action within an engine pass
type ActionOutcome struct {
	RuleID     string     `json:"rule_id"`
	RuleName   string     `json:"rule_name"`
	ActionType ActionKind `json:"action_type"`
	Success    bool       `json:"success"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ExecutionOutcome is the result of one engine pass.
// Success is true whenever the pass completed; action failures are reported per action.
type ExecutionOutcome struct {
	Success            bool            `json:"success"`
	TriggeredWorkflows []string        `json:"triggered_workflows"`
	Actions            []ActionOutcome `json:"actions"`
}

// clone returns a deep copy so callers can't mutate stored state
func (r *Rule) clone() *Rule {
	c := *r
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		c.LastTriggered = &t
	}
	c.Triggers = make([]Trigger, len(r.Triggers))
	for i, t := range r.Triggers {
		if t.ValueNumber != nil {
			n := *t.ValueNumber
			t.ValueNumber = &n
		}
		c.Triggers[i] = t
	}
	c.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Config = cloneConfig(a.Config)
		c.Actions[i] = a
	}
	return &c
}

func cloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneConfig(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
