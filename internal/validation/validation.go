// Package validation collects struct-tag validation failures into a single
// reportable error, the way codeninja55-go-radx/fhir/validation/validator.go's
// Errors/Error pair does, but backed directly by go-playground/validator/v10
// instead of a hand-rolled reflection walk — this server has no FHIR-profile
// cardinality/choice rules to enforce, just ordinary struct tags.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error is one field's validation failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors collects every failure from one Validate call.
type Errors struct {
	errors []*Error
}

func (e *Errors) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation error(s):\n", len(e.errors))
	for i, err := range e.errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors reports whether any field failed.
func (e *Errors) HasErrors() bool {
	return len(e.errors) > 0
}

// List returns every individual field failure.
func (e *Errors) List() []*Error {
	return e.errors
}

// Validator wraps a validator.Validate instance so callers don't each pay
// struct-tag-cache construction cost.
type Validator struct {
	validate *validator.Validate
}

// New builds a Validator using go-playground/validator's default tag set.
func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate checks v's struct tags, returning an *Errors (never a bare
// validator.ValidationErrors) so callers only need to handle one error
// shape regardless of which package failed validation.
func (vd *Validator) Validate(v any) error {
	err := vd.validate.Struct(v)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	errs := &Errors{}
	for _, fe := range fieldErrs {
		errs.errors = append(errs.errors, &Error{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %q validation (got %v)", fe.Tag(), fe.Value()),
		})
	}
	return errs
}
