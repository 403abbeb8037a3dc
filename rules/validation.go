package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func ruleValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("trigger_kind", func(fl validator.FieldLevel) bool {
			return TriggerKind(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("action_kind", func(fl validator.FieldLevel) bool {
			return ActionKind(fl.Field().String()).Valid()
		})
		v.RegisterStructValidation(validateRuleName, Rule{})
		v.RegisterStructValidation(validateTrigger, Trigger{})
		validate = v
	})
	return validate
}

// validateRuleName rejects names that are only whitespace; an empty name is
// already caught by the required tag
func validateRuleName(sl validator.StructLevel) {
	r := sl.Current().Interface().(Rule)
	if r.Name != "" && strings.TrimSpace(r.Name) == "" {
		sl.ReportError(r.Name, "Name", "name", "required", "")
	}
}

// validateTrigger checks what depends on the trigger kind
func validateTrigger(sl validator.StructLevel) {
	t := sl.Current().Interface().(Trigger)
	switch t.Kind {
	case TriggerDuration:
		switch t.Condition {
		case OpGreaterThan, OpLessThan, OpEquals:
		default:
			sl.ReportError(t.Condition, "Condition", "condition", "duration_operator", "")
		}
		if _, ok := t.Number(); !ok {
			sl.ReportError(t.ValueNumber, "ValueNumber", "value_number", "required_for_duration", "")
		}
	case TriggerKeyword, TriggerSpeaker, TriggerTopic, TriggerSentiment:
		if strings.TrimSpace(t.Condition) == "" {
			sl.ReportError(t.Condition, "Condition", "condition", "required", "")
		}
	}
}

// ValidateRule checks a rule definition before it is persisted.
// It returns a *ValidationError listing every problem, or nil.
func ValidateRule(rule *Rule) error {
	if rule == nil {
		return &ValidationError{Problems: []string{"rule is required"}}
	}

	err := ruleValidator().Struct(rule)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Problems: []string{err.Error()}}
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems}
}

// describe turns a field error into a message like "Triggers[0].Kind: unknown trigger kind \"mood\""
func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Rule.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must contain at least %s item", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "trigger_kind":
		return fmt.Sprintf("%s: unknown trigger kind %q", field, fe.Value())
	case "action_kind":
		return fmt.Sprintf("%s: unknown action kind %q", field, fe.Value())
	case "duration_operator":
		return fmt.Sprintf("%s: duration operator must be one of %s, %s, %s (got %q)",
			field, OpGreaterThan, OpLessThan, OpEquals, fe.Value())
	case "required_for_duration":
		return fmt.Sprintf("%s: duration triggers need a numeric value", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
