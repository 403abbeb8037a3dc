package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is wrapped by every ValidationError
	ErrValidation = errors.New("validation failed")
	// ErrRuleNotFound is returned when a rule id does not exist
	ErrRuleNotFound = errors.New("rule not found")
	// ErrRuleExists is returned when creating a rule whose id is taken
	ErrRuleExists = errors.New("rule already exists")
	// ErrUnknownActionKind is returned when dispatching an action outside the supported set
	ErrUnknownActionKind = errors.New("unknown action kind")
)

// ValidationError lists every problem found in a rule definition
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsValidationError reports whether err came from rule validation
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err means the rule does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}
