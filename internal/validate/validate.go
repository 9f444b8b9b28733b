// Package validate implements the tool-argument schema validator (C6).
//
// Grounded directly on the teacher's own engine.Tool.ValidateArgs, which
// loads a tool's JSON-Schema string with gojsonschema.NewStringLoader and
// the call arguments with gojsonschema.NewGoLoader — gojsonschema already
// performs the deep structural validation the spec requires (nested
// objects, array item types, required fields, numeric bounds, string
// length/pattern, enums, integer-vs-number); this package's job is turning
// gojsonschema's result into the spec's {valid, errors[]} shape with a
// named violating path per error, the way the teacher's ToolValidationError
// collects one message per failure.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// FieldError names one violated constraint at one document path.
type FieldError struct {
	Path        string `json:"path"`
	Constraint  string `json:"constraint"`
	Description string `json:"description"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Path, f.Description, f.Constraint)
}

// Result is the outcome of one validation call.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Args validates arguments against inputSchema (a JSON-Schema object, as
// stored in model.ToolSchema.InputSchema). Returns a Result describing
// every violation found, deep into nested structures.
func Args(toolName string, arguments map[string]any, inputSchema map[string]any) (Result, error) {
	schemaJSON, err := json.Marshal(inputSchema)
	if err != nil {
		return Result{}, fmt.Errorf("validate: marshal schema for %s: %w", toolName, err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(arguments)

	outcome, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return Result{}, fmt.Errorf("validate: schema for %s is malformed: %w", toolName, err)
	}

	if outcome.Valid() {
		return Result{Valid: true}, nil
	}

	errs := make([]FieldError, 0, len(outcome.Errors()))
	for _, e := range outcome.Errors() {
		errs = append(errs, FieldError{
			Path:        fieldPath(e),
			Constraint:  e.Type(),
			Description: e.Description(),
		})
	}
	return Result{Valid: false, Errors: errs}, nil
}

// fieldPath renders a gojsonschema error's field context as a dotted path,
// falling back to "(root)" for schema-level violations.
func fieldPath(e gojsonschema.ResultError) string {
	field := e.Field()
	if field == "" || field == "(root)" {
		return "(root)"
	}
	return strings.TrimPrefix(field, "(root).")
}

// AsModelError converts a failed Result into the model.Error the
// tool-call broker (C7) returns as a 400 BadArguments response.
func (r Result) AsModelError(toolName string) *model.Error {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
	}
	return model.New(model.KindBadArguments, "tool %s: invalid arguments: %s", toolName, strings.Join(msgs, "; "))
}
