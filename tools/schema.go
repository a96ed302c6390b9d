package tools

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
)

// ValidateArgs checks an argument map against a capability's input schema
// before any remote call is made: required properties must be present,
// unknown properties are rejected, and property values must match the
// declared JSON type. A nil schema accepts any arguments.
func ValidateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	return validateObject(schema, args, "")
}

func validateObject(schema *jsonschema.Schema, args map[string]any, path string) error {
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			return errors.WithMessagef(ErrValidation, "missing required field: %s", joinPath(path, name))
		}
	}

	if schema.Properties == nil {
		return nil
	}

	for name, value := range args {
		prop, ok := schema.Properties.Get(name)
		if !ok {
			return errors.WithMessagef(ErrValidation, "unknown field: %s", joinPath(path, name))
		}
		if err := validateValue(prop, value, joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(schema *jsonschema.Schema, value any, path string) error {
	if schema == nil || schema.Type == "" {
		return nil
	}
	// Absent optional values were filtered before this point; null is left
	// to the server to judge.
	if value == nil {
		return nil
	}

	switch schema.Type {
	case "string":
		if _, ok := value.(string); !ok {
			return typeError(path, "string", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeError(path, "boolean", value)
		}
	case "number":
		if !isNumber(value) {
			return typeError(path, "number", value)
		}
	case "integer":
		if !isInteger(value) {
			return typeError(path, "integer", value)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return typeError(path, "array", value)
		}
		if schema.Items != nil {
			for i, item := range items {
				if err := validateValue(schema.Items, item, indexPath(path, i)); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return typeError(path, "object", value)
		}
		return validateObject(schema, obj, path)
	}
	return nil
}

func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	}
	return false
}

func typeError(path, want string, got any) error {
	return errors.WithMessagef(ErrValidation, "field %s: expected %s, got %T", path, want, got)
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
