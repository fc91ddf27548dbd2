package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names the files merged underneath the current one.
const includeKey = "$include"

// LoadRaw reads path and its includes into one map. Values in the including
// file override those from included files; nested maps merge key by key.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &rawLoader{visiting: make(map[string]struct{})}
	return l.load(path)
}

type rawLoader struct {
	visiting map[string]struct{}
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, ok := l.visiting[abs]; ok {
		return nil, fmt.Errorf("config include cycle at %s", abs)
	}
	l.visiting[abs] = struct{}{}
	defer delete(l.visiting, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	doc, err := parseDocument([]byte(expandEnv(string(data))), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(abs), err)
	}

	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(abs), err)
	}
	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		merge(base, sub)
	}
	merge(base, doc)
	return base, nil
}

// expandEnv replaces $VAR and ${VAR} with environment values. ${VAR:-def}
// falls back to def when VAR is unset or empty. The $include key is kept.
func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		if "$"+ref == includeKey {
			return includeKey
		}
		name, def, hasDefault := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" || !hasDefault {
			return v
		}
		return def
	})
}

// parseDocument reads JSON5 for .json and .json5 files and a single YAML
// document otherwise.
func parseDocument(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
			return nil, errors.New("multiple YAML documents are not supported")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// popIncludes removes $include from doc and returns its paths in order.
func popIncludes(doc map[string]any) ([]string, error) {
	v, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	var out []string
	add := func(item any) error {
		s, ok := item.(string)
		if !ok {
			return fmt.Errorf("%s entries must be strings, got %T", includeKey, item)
		}
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		return nil
	}
	switch typed := v.(type) {
	case nil:
	case []any:
		for _, item := range typed {
			if err := add(item); err != nil {
				return nil, err
			}
		}
	default:
		if err := add(typed); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// merge copies src into dst, recursing where both sides hold a map.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// decodeRawConfig round-trips the merged map through YAML so unknown keys
// are rejected and durations parse the same way for every input format.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
