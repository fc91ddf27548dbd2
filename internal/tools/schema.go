package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each distinct parameters schema once.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
	errs    map[string]error
}

func newSchemaCache() *schemaCache {
	return &schemaCache{
		schemas: make(map[string]*jsonschema.Schema),
		errs:    make(map[string]error),
	}
}

func (c *schemaCache) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schemas[key]; ok {
		return s, nil
	}
	if err, ok := c.errs[key]; ok {
		return nil, err
	}
	s, err := jsonschema.CompileString("tool_params_"+key[:12]+".json", string(raw))
	if err != nil {
		c.errs[key] = err
		return nil, err
	}
	c.schemas[key] = s
	return s, nil
}

// validate checks args against the schema and returns human readable
// warnings. An uncompilable schema is itself reported as a warning.
func (c *schemaCache) validate(raw json.RawMessage, args map[string]any) []string {
	if len(raw) == 0 {
		return nil
	}
	schema, err := c.compile(raw)
	if err != nil {
		return []string{fmt.Sprintf("parameters schema invalid: %v", err)}
	}

	// Round-trip so numbers and nested values have the shapes the
	// validator expects.
	payload, err := json.Marshal(args)
	if err != nil {
		return []string{fmt.Sprintf("arguments not serializable: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return []string{fmt.Sprintf("arguments not serializable: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return schemaWarnings(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

func schemaWarnings(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("schema: %s: %s", loc, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}
