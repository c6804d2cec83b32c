// Package tools holds the registry of typed, schema-validated capabilities
// the model can invoke, plus shared plumbing for the builtin tools.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cinder-ai/cinder/pkg/models"
)

// Tool categories used for approval decisions and timeouts.
const (
	CategoryFile    = "file"
	CategoryShell   = "shell"
	CategoryGit     = "git"
	CategorySearch  = "search"
	CategoryNetwork = "network"
)

// Param describes one tool parameter. Order in the Spec is preserved in the
// schema emitted to the LLM.
type Param struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean", "array", "object"
	Required    bool
	Default     any
	Description string
	Enum        []string
}

// Runner executes a tool with validated arguments.
type Runner interface {
	Run(ctx context.Context, args map[string]any) (*models.ToolResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, args map[string]any) (*models.ToolResult, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
	return f(ctx, args)
}

// Spec describes one registered tool. Immutable after registration.
type Spec struct {
	Name          string
	Description   string
	Category      string
	Params        []Param
	SideEffecting bool
	LongRunning   bool

	// Check is an optional predicate run after schema validation, for
	// constraints a JSON schema cannot express.
	Check func(args map[string]any) error

	Runner Runner

	compiled *jsonschema.Schema
}

// SchemaJSON renders the parameter table as a JSON schema object.
func (s *Spec) SchemaJSON() json.RawMessage {
	properties := make(map[string]any, len(s.Params))
	var required []string
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// compile builds the validator for this spec's schema.
func (s *Spec) compile() error {
	compiler := jsonschema.NewCompiler()
	url := "cinder://tools/" + s.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(s.SchemaJSON())); err != nil {
		return fmt.Errorf("failed to add schema for %s: %w", s.Name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", s.Name, err)
	}
	s.compiled = compiled
	return nil
}

// ValidateArgs checks raw JSON arguments against the schema and the
// optional predicate, returning the decoded map with defaults applied.
func (s *Spec) ValidateArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if s.compiled != nil {
		if err := s.compiled.Validate(decoded); err != nil {
			return nil, fmt.Errorf("arguments do not match schema: %w", err)
		}
	}
	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}

	for _, p := range s.Params {
		if _, present := args[p.Name]; !present && p.Default != nil {
			args[p.Name] = p.Default
		}
	}

	if s.Check != nil {
		if err := s.Check(args); err != nil {
			return nil, err
		}
	}
	return args, nil
}
