package toolexecutor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var validTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// Float returns a pointer for numeric bounds in parameter declarations
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer for length bounds in parameter declarations
func Int(v int) *int {
	return &v
}

func validateParameter(param ToolParameter, nested bool) error {
	if !nested && param.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if param.Type == "" {
		return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
	}
	if !validTypes[param.Type] {
		return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
	}
	if !nested && param.Description == "" {
		return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
	}
	if param.Items != nil {
		if param.Type != "array" {
			return fmt.Errorf("items declared on non-array parameter %s", param.Name)
		}
		if err := validateParameter(*param.Items, true); err != nil {
			return err
		}
	}
	for _, prop := range param.Properties {
		if err := validateParameter(prop, false); err != nil {
			return fmt.Errorf("%s: %w", param.Name, err)
		}
	}
	return nil
}

// parameterSchema renders one parameter as a JSON Schema fragment
func parameterSchema(param ToolParameter) map[string]interface{} {
	s := map[string]interface{}{"type": param.Type}
	if param.Description != "" {
		s["description"] = param.Description
	}
	if param.Default != nil {
		s["default"] = param.Default
	}
	if len(param.Enum) > 0 {
		s["enum"] = param.Enum
	}
	if param.Minimum != nil {
		s["minimum"] = *param.Minimum
	}
	if param.Maximum != nil {
		s["maximum"] = *param.Maximum
	}
	if param.MinLength != nil {
		s["minLength"] = *param.MinLength
	}
	if param.MinItems != nil {
		s["minItems"] = *param.MinItems
	}
	if param.MaxItems != nil {
		s["maxItems"] = *param.MaxItems
	}
	if param.Format != "" {
		s["format"] = param.Format
	}
	if param.Items != nil {
		s["items"] = parameterSchema(*param.Items)
	}
	if len(param.Properties) > 0 {
		properties, required := objectProperties(param.Properties)
		s["properties"] = properties
		if len(required) > 0 {
			s["required"] = required
		}
	}
	return s
}

func objectProperties(params []ToolParameter) (map[string]interface{}, []string) {
	properties := make(map[string]interface{}, len(params))
	required := []string{}
	for _, param := range params {
		properties[param.Name] = parameterSchema(param)
		if param.Required {
			required = append(required, param.Name)
		}
	}
	return properties, required
}

// inputSchema is the advertised JSON Schema of a tool's arguments
func inputSchema(def ToolDefinition) map[string]interface{} {
	properties, required := objectProperties(def.Parameters)
	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// generateJSONSchema compiles the advertised schema for validation
func generateJSONSchema(schemaMap map[string]interface{}) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		sort.Strings(errs)
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// normalizeParameters drops undeclared keys and fills declared defaults
func normalizeParameters(def *ToolDefinition, params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(def.Parameters))
	for _, param := range def.Parameters {
		if v, ok := params[param.Name]; ok && v != nil {
			out[param.Name] = v
			continue
		}
		if param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out
}
