package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/cinder-ai/cinder/pkg/models"
)

func echoRunner() Runner {
	return RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
		return models.Ok(args), nil
	})
}

func TestRegisterAndListOrder(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		err := r.Register(&Spec{Name: name, Runner: echoRunner()})
		if err != nil {
			t.Fatal(err)
		}
	}

	if got := r.List(); !reflect.DeepEqual(got, []string{"alpha", "beta", "gamma"}) {
		t.Fatalf("List = %v", got)
	}
}

func TestRegisterLastWriteWinsKeepsOrder(t *testing.T) {
	r := NewRegistry(nil)

	_ = r.Register(&Spec{Name: "alpha", Description: "first", Runner: echoRunner()})
	_ = r.Register(&Spec{Name: "beta", Runner: echoRunner()})
	_ = r.Register(&Spec{Name: "alpha", Description: "second", Runner: echoRunner()})

	if got := r.List(); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Fatalf("List = %v", got)
	}
	spec, _ := r.Get("alpha")
	if spec.Description != "second" {
		t.Fatalf("Description = %q, want the replacement", spec.Description)
	}
}

func TestRegisterRejectsInvalidSpecs(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(&Spec{Name: "", Runner: echoRunner()}); err == nil {
		t.Fatal("empty name should be rejected")
	}
	if err := r.Register(&Spec{Name: "norunner"}); err == nil {
		t.Fatal("missing runner should be rejected")
	}
	// A bad spec must not poison the registry.
	if err := r.Register(&Spec{Name: "good", Runner: echoRunner()}); err != nil {
		t.Fatal(err)
	}
}

func TestValidateArgs(t *testing.T) {
	spec := &Spec{
		Name: "bash_command",
		Params: []Param{
			{Name: "command", Type: "string", Required: true},
			{Name: "timeout", Type: "integer", Default: float64(30)},
		},
		Runner: echoRunner(),
	}
	r := NewRegistry(nil)
	if err := r.Register(spec); err != nil {
		t.Fatal(err)
	}

	args, err := spec.ValidateArgs(json.RawMessage(`{"command":"ls"}`))
	if err != nil {
		t.Fatal(err)
	}
	if args["timeout"] != float64(30) {
		t.Fatalf("default not applied: %v", args)
	}

	if _, err := spec.ValidateArgs(json.RawMessage(`{}`)); err == nil {
		t.Fatal("missing required parameter should fail")
	}
	if _, err := spec.ValidateArgs(json.RawMessage(`{"command":42}`)); err == nil {
		t.Fatal("wrong type should fail")
	}
	if _, err := spec.ValidateArgs(json.RawMessage(`{"command":"ls","bogus":1}`)); err == nil {
		t.Fatal("unknown parameter should fail")
	}
}

func TestValidateArgsEnumAndPredicate(t *testing.T) {
	spec := &Spec{
		Name: "git_log",
		Params: []Param{
			{Name: "format", Type: "string", Enum: []string{"oneline", "full"}},
			{Name: "path", Type: "string"},
		},
		Check: func(args map[string]any) error {
			if p, _ := args["path"].(string); strings.Contains(p, "..") {
				return errors.New("path must not contain ..")
			}
			return nil
		},
		Runner: echoRunner(),
	}
	r := NewRegistry(nil)
	if err := r.Register(spec); err != nil {
		t.Fatal(err)
	}

	if _, err := spec.ValidateArgs(json.RawMessage(`{"format":"oneline"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := spec.ValidateArgs(json.RawMessage(`{"format":"sideways"}`)); err == nil {
		t.Fatal("enum violation should fail")
	}
	if _, err := spec.ValidateArgs(json.RawMessage(`{"path":"../etc"}`)); err == nil {
		t.Fatal("predicate violation should fail")
	}
}

func TestSchemasForLLM(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Spec{
		Name:        "read_file",
		Description: "Read a file from the workspace",
		Params:      []Param{{Name: "path", Type: "string", Required: true}},
		Runner:      echoRunner(),
	})

	schemas := r.SchemasForLLM()
	if len(schemas) != 1 || schemas[0].Name != "read_file" {
		t.Fatalf("schemas = %v", schemas)
	}
	var schema map[string]any
	if err := json.Unmarshal(schemas[0].Parameters, &schema); err != nil {
		t.Fatal(err)
	}
	if schema["type"] != "object" {
		t.Fatalf("schema type = %v", schema["type"])
	}
	req, _ := schema["required"].([]any)
	if len(req) != 1 || req[0] != "path" {
		t.Fatalf("required = %v", schema["required"])
	}
}

func TestSideEffectingUnknownToolDefaultsTrue(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&Spec{Name: "read_file", Runner: echoRunner()})

	if r.SideEffecting("read_file") {
		t.Fatal("read_file registered without the flag should not be side-effecting")
	}
	if !r.SideEffecting("ghost_tool") {
		t.Fatal("unknown tools must be treated as side-effecting")
	}
}
