package main

import (
	"github.com/liamcoop/automations/rules"
)

// CreateRuleRequest is the body of POST /api/v1/rules
type CreateRuleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Triggers    []rules.Trigger `json:"triggers"`
	Actions     []rules.Action  `json:"actions"`
}

// toRule builds the rule to persist; rules are enabled unless stated otherwise
func (req CreateRuleRequest) toRule() *rules.Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &rules.Rule{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Triggers:    req.Triggers,
		Actions:     req.Actions,
	}
}

// UpdateRuleRequest is the body of PATCH /api/v1/rules/{ruleId}
type UpdateRuleRequest struct {
	Enabled *bool `json:"enabled"`
}

// RulesListResponse is returned by GET /api/v1/rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// RunRequest is the body of POST /api/v1/workflows/run. An empty RuleID runs every rule.
type RunRequest struct {
	Context rules.MeetingContext `json:"context"`
	RuleID  string               `json:"rule_id,omitempty"`
}

// RunBatchRequest runs independent passes for several meetings
type RunBatchRequest struct {
	Meetings    []RunRequest `json:"meetings"`
	Concurrency int          `json:"concurrency,omitempty"`
}

// RunBatchItem is the result for the meeting at Index
type RunBatchItem struct {
	Index   int                     `json:"index"`
	Outcome *rules.ExecutionOutcome `json:"outcome,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// RunBatchResponse keeps results in request order
type RunBatchResponse struct {
	Results []RunBatchItem `json:"results"`
}

// HealthResponse is returned by GET /api/v1/health
type HealthResponse struct {
	Status string           `json:"status"`
	Error  string           `json:"error,omitempty"`
	Engine map[string]int64 `json:"engine"`
	Logs   map[string]int64 `json:"logs"`
	// LogLevel is the current minimum level of the process logger
	LogLevel string `json:"log_level"`
}
