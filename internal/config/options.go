package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed options.schema.json
var optionsSchemaJSON []byte

const optionsSchemaURL = "options.schema.json"

var (
	optionsSchemaOnce sync.Once
	optionsSchema     *jsonschema.Schema
	optionsSchemaErr  error
)

func compiledOptionsSchema() (*jsonschema.Schema, error) {
	optionsSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(optionsSchemaURL, bytes.NewReader(optionsSchemaJSON)); err != nil {
			optionsSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		optionsSchema, optionsSchemaErr = compiler.Compile(optionsSchemaURL)
	})
	return optionsSchema, optionsSchemaErr
}

// setupOptions mirrors the editor's setup dictionary.
type setupOptions struct {
	OnKey        *string `json:"on_key"`
	TargetIM     *string `json:"im_active"`
	FallbackIM   *string `json:"im_inactive"`
	SwitchOnMode *bool   `json:"switch_on_mode"`
	ResetOnLeave *bool   `json:"reset_on_leave"`
	TimeoutMs    *int    `json:"timeout_ms"`
	LogLevel     *string `json:"log_level"`
	LogFile      *string `json:"log_file"`
}

// ApplyOptions merges the editor's setup dictionary into c. The dictionary
// is checked against the options schema and the merged result is validated;
// c is left untouched on any error.
func (c *Config) ApplyOptions(opts map[string]any) error {
	if len(opts) == 0 {
		return nil
	}

	doc, err := normalizeOptions(opts)
	if err != nil {
		return err
	}
	schema, err := compiledOptionsSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return schemaErrors(err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	var so setupOptions
	if err := json.Unmarshal(data, &so); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}

	next := c.Clone()
	s := &next.Sync
	if so.OnKey != nil {
		s.OnKey = *so.OnKey
	} else if _, ok := opts["on_key"]; ok {
		s.OnKey = ""
	}
	if so.TargetIM != nil {
		s.TargetIM = *so.TargetIM
	}
	if so.FallbackIM != nil {
		s.FallbackIM = *so.FallbackIM
	}
	if so.SwitchOnMode != nil {
		s.SwitchOnMode = *so.SwitchOnMode
	}
	if so.ResetOnLeave != nil {
		s.ResetOnLeave = *so.ResetOnLeave
	}
	if so.TimeoutMs != nil {
		s.TimeoutMs = *so.TimeoutMs
	}
	if so.LogLevel != nil {
		next.Logging.Level = *so.LogLevel
	}
	if so.LogFile != nil {
		next.Logging.FilePath = *so.LogFile
	}

	if err := ValidateConfig(next); err != nil {
		return err
	}

	c.mu.Lock()
	c.Sync = next.Sync
	c.Logging = next.Logging
	c.mu.Unlock()
	return nil
}

// normalizeOptions converts decoded msgpack or YAML values into the JSON
// shapes the schema validator understands.
func normalizeOptions(opts map[string]any) (any, error) {
	data, err := json.Marshal(normalizeValue(opts))
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return doc, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	case []byte:
		return string(t)
	default:
		return v
	}
}

// schemaErrors flattens a schema failure into ValidationErrors keyed by
// option name.
func schemaErrors(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err
	}
	var errs ValidationErrors
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "options"
			}
			errs = append(errs, ValidationError{Field: field, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return errs
}
