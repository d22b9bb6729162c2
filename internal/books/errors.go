package books

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced account, party, inventory
	// item or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation matches every *ValidationError through errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict is returned when row locks could not be taken
	// in time. The whole call may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDuplicateName is returned when an account or inventory name is taken.
	ErrDuplicateName = errors.New("name already in use")

	// ErrEmptyID is returned when storing a record without an identity.
	ErrEmptyID = errors.New("empty ID")

	// ErrReferenced is returned when deleting an entity that posted
	// transactions still reference.
	ErrReferenced = errors.New("entity is referenced by posted transactions")
)

// Rule names the business rule a ValidationError reports.
type Rule string

const (
	RuleAlreadyPosted       Rule = "AlreadyPosted"
	RuleAccountModeMismatch Rule = "AccountModeMismatch"
	RuleWrongPartyType      Rule = "WrongPartyType"
	RuleInsufficientStock   Rule = "InsufficientStock"
	RuleInvalidQuantity     Rule = "InvalidQuantity"
	RuleInvalidAmount       Rule = "InvalidAmount"
	RuleInvalidPrice        Rule = "InvalidPrice"
	RuleInvalidPaymentMode  Rule = "InvalidPaymentMode"
	RuleInvalidKind         Rule = "InvalidKind"
	RuleMissingReference    Rule = "MissingReference"
	RuleInvalidName         Rule = "InvalidName"
	RuleInvalidDate         Rule = "InvalidDate"
	RuleInvalidFilter       Rule = "InvalidFilter"
)

// ValidationError is a business-rule violation. It never leaves partial state behind.
type ValidationError struct {
	Rule    Rule
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true for every rule.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(rule Rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// RuleOf returns the violated rule if err carries a ValidationError.
func RuleOf(err error) (Rule, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Rule, true
	}
	return "", false
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}
