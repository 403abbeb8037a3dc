package actions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/liamcoop/automations/rules"
	"github.com/xeipuuv/gojsonschema"
)

var stringList = map[string]any{
	"oneOf": []any{
		map[string]any{"type": "string"},
		map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

// configSchemas describe the config accepted by each action kind.
// Unknown keys are allowed so older rules keep working.
var configSchemas = map[rules.ActionKind]map[string]any{
	rules.ActionEmail: {
		"type": "object",
		"properties": map[string]any{
			"to":      stringList,
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
	},
	rules.ActionChatMessage: {
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{"type": "string"},
			"message": map[string]any{"type": "string"},
		},
	},
	rules.ActionCalendarEvent: {
		"type": "object",
		"properties": map[string]any{
			"title":            map[string]any{"type": "string"},
			"duration_minutes": map[string]any{"type": "number", "minimum": 1},
			"attendees":        stringList,
		},
	},
	rules.ActionTask: {
		"type": "object",
		"properties": map[string]any{
			"title":    map[string]any{"type": "string"},
			"assignee": map[string]any{"type": "string"},
			"due":      map[string]any{"type": "string"},
		},
	},
	rules.ActionWebhook: {
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "pattern": "^https?://"},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"timeout_seconds": map[string]any{"type": "number", "minimum": 1},
		},
	},
	rules.ActionAIReanalysis: {
		"type": "object",
		"properties": map[string]any{
			"prompt":      map[string]any{"type": "string"},
			"model":       map[string]any{"type": "string"},
			"temperature": map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			"max_tokens":  map[string]any{"type": "integer", "minimum": 1},
		},
	},
}

var (
	compiled     map[rules.ActionKind]*gojsonschema.Schema
	compiledErr  error
	compiledOnce sync.Once
)

func schemaFor(kind rules.ActionKind) (*gojsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiled = make(map[rules.ActionKind]*gojsonschema.Schema, len(configSchemas))
		for k, s := range configSchemas {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s))
			if err != nil {
				compiledErr = fmt.Errorf("invalid %s config schema: %w", k, err)
				return
			}
			compiled[k] = schema
		}
	})
	if compiledErr != nil {
		return nil, compiledErr
	}
	return compiled[kind], nil
}

// validateConfig checks an action config against the schema of its kind
func validateConfig(kind rules.ActionKind, config map[string]any) error {
	schema, err := schemaFor(kind)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return err
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
