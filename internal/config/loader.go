// Package config loads and normalizes the cinder configuration file.
// Files are YAML or JSON5, support ${ENV} expansion before decode, and
// may pull in fragments via $include.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// loadRaw reads a config file into a merged raw map, resolving $include
// directives with cycle detection. Included fragments merge first; the
// including file wins on conflicts.
func loadRaw(path string, seen map[string]bool) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("config include cycle detected at %s", abs)
	}
	seen[abs] = true
	defer delete(seen, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(abs)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(baseDir, inc)
		}
		fragment, err := loadRaw(inc, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, fragment)
	}
	return mergeMaps(merged, raw), nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("$include must be a string or list of strings")
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// decodeInto decodes a raw map over cfg, rejecting unknown keys.
func decodeInto(raw map[string]any, cfg *Config) error {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}
