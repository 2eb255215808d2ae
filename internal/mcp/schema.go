package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/council-ai/orchestrator/internal/toolerrors"
)

// schemaValidator compiles each discovered tool's input_schema once and
// validates LLM-authored argument payloads before they reach a subprocess.
// Tools whose schema fails to compile are
// never rejected at call time; validation is a best-effort gate, not a
// substitute for the server's own checks.
type schemaValidator struct {
	schemas map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// register compiles the tool's schema. A nil or malformed schema is skipped.
func (v *schemaValidator) register(fullName string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("mcp:///%s/input_schema.json", fullName)
	if err := compiler.AddResource(url, doc); err != nil {
		return
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return
	}
	v.schemas[fullName] = schema
}

// validate checks args against the tool's compiled schema, if any.
func (v *schemaValidator) validate(fullName string, args map[string]any) error {
	schema, ok := v.schemas[fullName]
	if !ok {
		return nil
	}
	// jsonschema validates decoded JSON values; round-trip through encoding
	// so typed Go values (ints, json.Number) normalize the way the wire
	// payload would.
	data, err := json.Marshal(args)
	if err != nil {
		return toolerrors.Wrap(toolerrors.KindParse, err, "mcp: marshal arguments for %s", fullName)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return toolerrors.Wrap(toolerrors.KindParse, err, "mcp: decode arguments for %s", fullName)
	}
	if err := schema.Validate(doc); err != nil {
		return toolerrors.Wrap(toolerrors.KindParse, err, "mcp: arguments for %s do not match input schema", fullName)
	}
	return nil
}
