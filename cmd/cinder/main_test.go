package main

import (
	"testing"
)

func TestRootCommandSurface(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"run": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q missing", name)
		}
	}
	if root.Flags().Lookup("config") == nil {
		t.Fatal("--config flag missing")
	}
}

func TestRunCommandRequiresMessage(t *testing.T) {
	root := buildRootCmd()
	root.SetArgs([]string{"run"})
	if err := root.Execute(); err == nil {
		t.Fatal("run without a message must fail")
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	cfg, err := loadConfig("", true, true)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Safety.Audit {
		t.Fatal("--audit must enable audit mode")
	}
	if !cfg.Router.Disabled {
		t.Fatal("--no-router must disable routing")
	}
}

func TestJoinArgs(t *testing.T) {
	if got := joinArgs([]string{"fix", "the", "bug"}); got != "fix the bug" {
		t.Fatalf("got %q", got)
	}
}
