package provider

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/hub"
)

// arg is one input parameter in a tool schema.
type arg struct {
	name        string
	typ         string
	description string
	required    bool
	def         any
	enum        []string
}

func stringArg(name, description string) arg {
	return arg{name: name, typ: "string", description: description}
}

func requiredString(name, description string) arg {
	return arg{name: name, typ: "string", description: description, required: true}
}

func intArg(name, description string, def any) arg {
	return arg{name: name, typ: "integer", description: description, def: def}
}

func requiredInt(name, description string) arg {
	return arg{name: name, typ: "integer", description: description, required: true}
}

func boolArg(name, description string) arg {
	return arg{name: name, typ: "boolean", description: description}
}

func enumArg(name, description string, values ...string) arg {
	return arg{name: name, typ: "string", description: description, enum: values}
}

func newTool(name, description string, args ...arg) mcp.Tool {
	properties := make(map[string]interface{}, len(args))
	required := []string{}
	for _, a := range args {
		propSchema := map[string]interface{}{
			"type":        a.typ,
			"description": a.description,
		}
		if a.def != nil {
			propSchema["default"] = a.def
		}
		if len(a.enum) > 0 {
			propSchema["enum"] = a.enum
		}
		properties[a.name] = propSchema
		if a.required {
			required = append(required, a.name)
		}
	}
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: properties,
			Required:   required,
		},
	}
}

// ValidateArguments checks args against the tool's input schema: every
// required property is present, every provided property is declared, and
// primitive types match.
func ValidateArguments(tool mcp.Tool, args map[string]any) error {
	for _, name := range tool.InputSchema.Required {
		if _, ok := args[name]; !ok {
			return hub.NewValidationError(fmt.Sprintf("missing required argument %q", name))
		}
	}
	for name, value := range args {
		propAny, ok := tool.InputSchema.Properties[name]
		if !ok {
			return hub.NewValidationError(fmt.Sprintf("unknown argument %q", name))
		}
		prop, ok := propAny.(map[string]interface{})
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if err := checkType(name, typ, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, typ string, value any) error {
	if value == nil {
		return nil
	}
	ok := true
	switch typ {
	case "string":
		_, ok = value.(string)
	case "integer", "number":
		// JSON numbers arrive as float64.
		switch value.(type) {
		case float64, int, int64:
		default:
			ok = false
		}
	case "boolean":
		_, ok = value.(bool)
	}
	if !ok {
		return hub.NewValidationError(fmt.Sprintf("argument %q must be of type %s", name, typ))
	}
	return nil
}

// Argument accessors with defaults; used by adapters after validation.

func strVal(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intVal(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func boolVal(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
