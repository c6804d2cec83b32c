package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

func newTestRegistry(t *testing.T, cfg Config) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	if err := Register(reg, cfg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func runTool(t *testing.T, reg *tools.Registry, name, rawArgs string) *models.ToolResult {
	t.Helper()
	spec, ok := reg.Get(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	args, err := spec.ValidateArgs(json.RawMessage(rawArgs))
	if err != nil {
		t.Fatalf("ValidateArgs(%s): %v", name, err)
	}
	result, err := spec.Runner.Run(context.Background(), args)
	if err != nil {
		t.Fatalf("Run(%s): %v", name, err)
	}
	return result
}

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir})

	res := runTool(t, reg, "write_file", `{"path":"notes.md","content":"hello"}`)
	if !res.Success {
		t.Fatalf("write failed: %v", res.Error)
	}

	res = runTool(t, reg, "read_file", `{"path":"notes.md"}`)
	if !res.Success {
		t.Fatalf("read failed: %v", res.Error)
	}
	data := res.Data.(map[string]any)
	if data["content"] != "hello" {
		t.Fatalf("content = %v", data["content"])
	}
}

func TestResolverBlocksEscape(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir})

	res := runTool(t, reg, "read_file", `{"path":"../../etc/passwd"}`)
	if res.Success {
		t.Fatal("workspace escape should fail")
	}
	if res.Kind != models.FailureInvalidArguments {
		t.Fatalf("kind = %v", res.Kind)
	}
}

func TestResolverBlocksSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "vault")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	r := Resolver{Root: dir}
	if _, err := r.Resolve("vault/secret.txt"); err == nil {
		t.Fatal("symlink escape should be rejected")
	}

	// Links that stay inside the workspace still resolve, including paths
	// to files that do not exist yet.
	if err := os.Mkdir(filepath.Join(dir, "real"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "alias")); err != nil {
		t.Fatal(err)
	}
	resolved, err := r.Resolve("alias/new.txt")
	if err != nil {
		t.Fatalf("in-workspace link should resolve: %v", err)
	}
	if !strings.HasSuffix(resolved, filepath.Join("real", "new.txt")) {
		t.Fatalf("resolved = %q, want the link target", resolved)
	}
}

func TestEditFileSingleMatch(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir})

	runTool(t, reg, "write_file", `{"path":"a.txt","content":"one two three"}`)
	res := runTool(t, reg, "edit_file", `{"path":"a.txt","old_string":"two","new_string":"2"}`)
	if !res.Success {
		t.Fatalf("edit failed: %v", res.Error)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if string(data) != "one 2 three" {
		t.Fatalf("file = %q", data)
	}
}

func TestEditFileAmbiguousMatchFails(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir})

	runTool(t, reg, "write_file", `{"path":"a.txt","content":"x x"}`)
	res := runTool(t, reg, "edit_file", `{"path":"a.txt","old_string":"x","new_string":"y"}`)
	if res.Success {
		t.Fatal("ambiguous match should fail without replace_all")
	}

	res = runTool(t, reg, "edit_file", `{"path":"a.txt","old_string":"x","new_string":"y","replace_all":true}`)
	if !res.Success {
		t.Fatalf("replace_all failed: %v", res.Error)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if string(data) != "y y" {
		t.Fatalf("file = %q", data)
	}
}

func TestWriteBackups(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir, Backups: true})

	runTool(t, reg, "write_file", `{"path":"a.txt","content":"v1"}`)
	runTool(t, reg, "write_file", `{"path":"a.txt","content":"v2"}`)

	entries, err := os.ReadDir(filepath.Join(dir, ".backups"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("backup count = %d, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "a.txt.") || !strings.HasSuffix(entries[0].Name(), ".bak") {
		t.Fatalf("backup name = %q", entries[0].Name())
	}
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir})

	runTool(t, reg, "write_file", `{"path":"sub/f.txt","content":"x"}`)
	res := runTool(t, reg, "list_dir", `{}`)
	if !res.Success {
		t.Fatalf("list failed: %v", res.Error)
	}
	entries := res.Data.(map[string]any)["entries"].([]string)
	if len(entries) != 1 || entries[0] != "sub/" {
		t.Fatalf("entries = %v", entries)
	}
}

func TestSearchFiles(t *testing.T) {
	dir := t.TempDir()
	reg := newTestRegistry(t, Config{Workspace: dir})

	runTool(t, reg, "write_file", `{"path":"main.go","content":"package main\nfunc main() {}\n"}`)
	runTool(t, reg, "write_file", `{"path":"util.go","content":"package main\nfunc helper() {}\n"}`)

	res := runTool(t, reg, "search_files", `{"pattern":"func \\w+\\(\\)"}`)
	if !res.Success {
		t.Fatalf("search failed: %v", res.Error)
	}
	count := res.Data.(map[string]any)["count"].(int)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	res = runTool(t, reg, "search_files", `{"pattern":"["}`)
	if res.Success || res.Kind != models.FailureInvalidArguments {
		t.Fatalf("invalid pattern should fail with invalid_arguments, got %+v", res)
	}
}
