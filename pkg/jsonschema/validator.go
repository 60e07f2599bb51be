// Package jsonschema validates JSON documents against a schema compiled once
// and shared by many goroutines.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validator holds a compiled schema. It is safe for concurrent use.
type Validator struct {
	name   string
	schema *jsonschema.Schema
}

// Compile parses and compiles schema. name identifies the schema in errors.
func Compile(name, schema string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	return &Validator{name: name, schema: compiled}, nil
}

// MustCompile is like Compile but panics on error. Use it for schemas
// embedded in the binary.
func MustCompile(name, schema string) *Validator {
	v, err := Compile(name, schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the schema name.
func (v *Validator) Name() string {
	return v.name
}

// Validate checks a raw JSON document. A document that parses but violates
// the schema yields ValidationErrors listing every leaf violation.
func (v *Validator) Validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.ValidateValue(doc)
}

// ValidateValue checks an already decoded document.
func (v *Validator) ValidateValue(doc interface{}) error {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return extractValidationErrors(verr)
	}
	return ValidationErrors{err}
}

// extractValidationErrors flattens the cause tree, keeping only leaves.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{fmt.Errorf("%s: %s", location(err.InstanceLocation), err.Message)}
	}

	var out ValidationErrors
	for _, cause := range err.Causes {
		out = append(out, extractValidationErrors(cause)...)
	}
	return out
}

func location(l string) string {
	if l == "" {
		return "/"
	}
	return l
}
