package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int

	// Backups enables copying the prior contents of a file into
	// .backups/<basename>.<timestamp>.bak before write_file or edit_file
	// overwrites it.
	Backups bool
}

// Register adds the filesystem tools to the registry.
func Register(reg *tools.Registry, cfg Config) error {
	if cfg.MaxReadBytes <= 0 {
		cfg.MaxReadBytes = 200000
	}
	resolver := Resolver{Root: cfg.Workspace}

	specs := []*tools.Spec{
		readSpec(resolver, cfg),
		writeSpec(resolver, cfg),
		editSpec(resolver, cfg),
		listSpec(resolver),
		searchSpec(resolver, cfg),
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func readSpec(resolver Resolver, cfg Config) *tools.Spec {
	return &tools.Spec{
		Name:        "read_file",
		Description: "Read a file from the workspace with optional offset and byte limit.",
		Category:    tools.CategoryFile,
		Params: []tools.Param{
			{Name: "path", Type: "string", Required: true, Description: "Path to the file (relative to workspace)."},
			{Name: "offset", Type: "integer", Description: "Byte offset to start reading from (default: 0)."},
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (capped by tool default)."},
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			path, _ := args["path"].(string)
			offset := intArg(args, "offset", 0)
			if offset < 0 {
				return models.Fail(models.FailureInvalidArguments, "offset must be >= 0"), nil
			}

			resolved, err := resolver.Resolve(path)
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, err.Error()), nil
			}

			file, err := os.Open(resolved)
			if err != nil {
				return osFailure("open file", err), nil
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return osFailure("stat file", err), nil
			}
			if offset > 0 {
				if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
					return osFailure("seek file", err), nil
				}
			}

			limit := cfg.MaxReadBytes
			if max := intArg(args, "max_bytes", 0); max > 0 && max < limit {
				limit = max
			}

			buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
			if err != nil {
				return osFailure("read file", err), nil
			}

			truncated := info.Size() > 0 && int64(offset)+int64(len(buf)) < info.Size()
			return models.Ok(map[string]any{
				"path":      path,
				"content":   string(buf),
				"offset":    offset,
				"bytes":     len(buf),
				"truncated": truncated,
			}), nil
		}),
	}
}

func writeSpec(resolver Resolver, cfg Config) *tools.Spec {
	return &tools.Spec{
		Name:          "write_file",
		Description:   "Write content to a file, creating parent directories as needed.",
		Category:      tools.CategoryFile,
		SideEffecting: true,
		Params: []tools.Param{
			{Name: "path", Type: "string", Required: true, Description: "Path to the file (relative to workspace)."},
			{Name: "content", Type: "string", Required: true, Description: "Full content to write."},
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)

			resolved, err := resolver.Resolve(path)
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, err.Error()), nil
			}
			if cfg.Backups {
				backupFile(resolver.Root, resolved)
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return osFailure("create directories", err), nil
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return osFailure("write file", err), nil
			}
			return models.Ok(map[string]any{
				"path":  path,
				"bytes": len(content),
			}), nil
		}),
	}
}

func editSpec(resolver Resolver, cfg Config) *tools.Spec {
	return &tools.Spec{
		Name:          "edit_file",
		Description:   "Replace an exact string in a file. The old string must match exactly once unless replace_all is set.",
		Category:      tools.CategoryFile,
		SideEffecting: true,
		Params: []tools.Param{
			{Name: "path", Type: "string", Required: true},
			{Name: "old_string", Type: "string", Required: true, Description: "Exact text to replace."},
			{Name: "new_string", Type: "string", Required: true, Description: "Replacement text."},
			{Name: "replace_all", Type: "boolean", Default: false},
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			path, _ := args["path"].(string)
			oldStr, _ := args["old_string"].(string)
			newStr, _ := args["new_string"].(string)
			replaceAll, _ := args["replace_all"].(bool)

			if oldStr == "" {
				return models.Fail(models.FailureInvalidArguments, "old_string must not be empty"), nil
			}
			if oldStr == newStr {
				return models.Fail(models.FailureInvalidArguments, "old_string and new_string are identical"), nil
			}

			resolved, err := resolver.Resolve(path)
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, err.Error()), nil
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return osFailure("read file", err), nil
			}
			content := string(data)

			count := strings.Count(content, oldStr)
			switch {
			case count == 0:
				return models.Fail(models.FailureExecutionError, "old_string not found in file"), nil
			case count > 1 && !replaceAll:
				return models.Fail(models.FailureExecutionError,
					fmt.Sprintf("old_string matches %d times; pass replace_all or make it unique", count)), nil
			}

			if cfg.Backups {
				backupFile(resolver.Root, resolved)
			}
			replaced := strings.Replace(content, oldStr, newStr, 1)
			if replaceAll {
				replaced = strings.ReplaceAll(content, oldStr, newStr)
			}
			if err := os.WriteFile(resolved, []byte(replaced), 0o644); err != nil {
				return osFailure("write file", err), nil
			}
			replacements := 1
			if replaceAll {
				replacements = count
			}
			return models.Ok(map[string]any{
				"path":         path,
				"replacements": replacements,
			}), nil
		}),
	}
}

func listSpec(resolver Resolver) *tools.Spec {
	return &tools.Spec{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory.",
		Category:    tools.CategoryFile,
		Params: []tools.Param{
			{Name: "path", Type: "string", Default: ".", Description: "Directory to list (default: workspace root)."},
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			path, _ := args["path"].(string)
			resolved, err := resolver.Resolve(path)
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, err.Error()), nil
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return osFailure("read directory", err), nil
			}

			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return models.Ok(map[string]any{
				"path":    path,
				"entries": names,
			}), nil
		}),
	}
}

func searchSpec(resolver Resolver, cfg Config) *tools.Spec {
	return &tools.Spec{
		Name:        "search_files",
		Description: "Search workspace files for a regex pattern, returning matching lines.",
		Category:    tools.CategorySearch,
		Params: []tools.Param{
			{Name: "pattern", Type: "string", Required: true, Description: "Regular expression to search for."},
			{Name: "path", Type: "string", Default: ".", Description: "Directory to search under."},
			{Name: "max_results", Type: "integer", Default: float64(100)},
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			pattern, _ := args["pattern"].(string)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, fmt.Sprintf("invalid pattern: %v", err)), nil
			}
			root, err := resolver.Resolve(stringArg(args, "path", "."))
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, err.Error()), nil
			}
			maxResults := intArg(args, "max_results", 100)

			type match struct {
				File string `json:"file"`
				Line int    `json:"line"`
				Text string `json:"text"`
			}
			var matches []match

			walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if d.IsDir() {
					name := d.Name()
					if name == ".git" || name == "node_modules" || name == ".backups" {
						return filepath.SkipDir
					}
					return nil
				}
				if len(matches) >= maxResults {
					return filepath.SkipAll
				}
				data, err := os.ReadFile(path)
				if err != nil || !utf8Text(data) {
					return nil
				}
				rel, _ := filepath.Rel(root, path)
				for i, line := range strings.Split(string(data), "\n") {
					if re.MatchString(line) {
						matches = append(matches, match{File: rel, Line: i + 1, Text: strings.TrimSpace(line)})
						if len(matches) >= maxResults {
							return filepath.SkipAll
						}
					}
				}
				return nil
			})
			if walkErr != nil && walkErr == ctx.Err() {
				return models.Fail(models.FailureCancelled, "search cancelled"), nil
			}

			return models.Ok(map[string]any{
				"pattern": pattern,
				"matches": matches,
				"count":   len(matches),
			}), nil
		}),
	}
}

// backupFile copies the existing file into .backups before an overwrite.
// Failures are ignored: backups are best-effort and never block a write.
func backupFile(root, resolved string) {
	data, err := os.ReadFile(resolved)
	if err != nil {
		return
	}
	backupDir := filepath.Join(root, ".backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s.%d.bak", filepath.Base(resolved), time.Now().UnixNano())
	_ = os.WriteFile(filepath.Join(backupDir, name), data, 0o644)
}

func osFailure(op string, err error) *models.ToolResult {
	return models.Fail(models.FailureOSError, fmt.Sprintf("%s: %v", op, err))
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

func stringArg(args map[string]any, key, fallback string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// utf8Text reports whether data looks like text (no NUL in the first KB).
func utf8Text(data []byte) bool {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return true
}
