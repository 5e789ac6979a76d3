package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// compileSchema compiles a tool's input schema. An empty schema accepts any
// object.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("registry: unmarshal schema for %s: %w", name, err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("registry: add schema for %s: %w", name, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("registry: compile schema for %s: %w", name, err)
	}
	return s, nil
}

// validateArgs checks args against schema and converts the first violation
// into a validation failure naming the offending field.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// Round-trip through JSON so Go-typed values from in-process callers
	// look exactly like decoded wire payloads.
	b, err := json.Marshal(args)
	if err != nil {
		return toolerr.Validation("", "arguments are not JSON-encodable: %v", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
	if err != nil {
		return toolerr.Validation("", "arguments are not valid JSON: %v", err)
	}
	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return toolerr.Validation("", "%v", err)
	}
	return describe(leaf(ve))
}

// leaf returns the first most specific cause.
func leaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func describe(ve *jsonschema.ValidationError) error {
	field := strings.Join(ve.InstanceLocation, ".")
	join := func(name string) string {
		if field == "" {
			return name
		}
		return field + "." + name
	}
	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			return toolerr.Validation(join(k.Missing[0]), "is required")
		}
	case *kind.AdditionalProperties:
		if len(k.Properties) > 0 {
			return toolerr.Validation(join(k.Properties[0]), "is not a recognized argument")
		}
	}
	keyword := "schema"
	if ve.ErrorKind != nil {
		if path := ve.ErrorKind.KeywordPath(); len(path) > 0 {
			keyword = path[len(path)-1]
		}
	}
	return toolerr.Validation(field, "violates %s constraint", keyword)
}
