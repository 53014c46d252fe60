package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

// BuildFieldsJSONSchema returns the JSON-Schema for sanitized fallback output.
func BuildFieldsJSONSchema() map[string]any {
	props := map[string]any{}
	for _, f := range constants.FallbackFields {
		key, _ := constants.Canonicalize(f)
		switch key {
		case constants.FieldBloodPressure:
			props[key] = map[string]any{"type": "string", "pattern": `^\d{2,3}/\d{2,3}$`}
		case constants.FieldExaminationDate:
			props[key] = map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
		default:
			props[key] = map[string]any{"type": []string{"number", "string"}, "minimum": 0}
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func fieldsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = CompileSchema(BuildFieldsJSONSchema())
	})
	return compiledSchema, schemaErr
}

// CompileSchema compiles a schema given as a generic map.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateJSONAgainstSchema validates data against schemaMap.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := CompileSchema(schemaMap)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ValidateFields checks f against the fallback schema. When the whole map is
// rejected, offending keys are pruned one by one; pruned keys are returned.
func ValidateFields(f report.Fields) (report.Fields, []string, error) {
	schema, err := fieldsSchema()
	if err != nil {
		return nil, nil, err
	}
	doc, err := toJSONValue(f)
	if err != nil {
		return nil, nil, err
	}
	if schema.Validate(doc) == nil {
		return f, nil, nil
	}

	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := report.Fields{}
	var pruned []string
	for _, k := range keys {
		single, err := toJSONValue(map[string]any{k: f[k]})
		if err != nil || schema.Validate(single) != nil {
			pruned = append(pruned, k)
			continue
		}
		out[k] = f[k]
	}
	return out, pruned, nil
}

// toJSONValue round-trips v through encoding/json so the validator sees
// plain JSON types.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
