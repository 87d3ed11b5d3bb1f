package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// paramsFromStruct reflects a Go args struct into the flat ToolParameter
// list every Tool.GetInfo() declares, using the same jsonschema struct-tag
// convention the rest of the config package already writes (see
// pkg/config/tool.go's `jsonschema:"..."` tags): `jsonschema:"required"`
// marks a field mandatory, `description=...` and one `enum=...` per
// allowed value fill in the rest.
//
// This only covers the flat, single-level argument shapes tool calls
// actually use — nested objects and arrays are left to Type/Items on the
// ToolParameter the caller fills in by hand, same as the teacher's
// generateSchema[T] does for its richer function-calling tools.
func paramsFromStruct[T any]() []ToolParameter {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	params := make([]ToolParameter, 0, schema.Properties.Len())
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		p := ToolParameter{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
		}
		if prop.Default != nil {
			p.Default = prop.Default
		}
		for _, e := range prop.Enum {
			if s, ok := e.(string); ok {
				p.Enum = append(p.Enum, s)
			} else if raw, err := json.Marshal(e); err == nil {
				p.Enum = append(p.Enum, string(raw))
			}
		}
		params = append(params, p)
	}
	return params
}
