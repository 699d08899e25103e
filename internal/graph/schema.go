package graph

import (
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/reminator329/trainingbook/internal/entity"
)

// Schema describes every record type of registry as a JSON Schema, one
// definition per tag, including the reserved tag keys.
func Schema(registry *entity.Registry) (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:              fieldTag,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}

	root := &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "trainingbook records",
		Definitions: jsonschema.Definitions{},
	}
	for _, tag := range registry.Tags() {
		typ, ok := registry.Type(tag)
		if !ok {
			return nil, fmt.Errorf("%w: %s", entity.ErrUnknownTag, tag)
		}
		def := reflector.ReflectFromType(typ)
		def.Version = ""
		if def.Properties != nil {
			def.Properties.Set(ClassKey, &jsonschema.Schema{Type: "string", Const: tag.Class})
			def.Properties.Set(ModuleKey, &jsonschema.Schema{Type: "string", Const: tag.Module})
			def.Properties.MoveToFront(ModuleKey)
			def.Properties.MoveToFront(ClassKey)
		}
		def.Required = append([]string{ClassKey, ModuleKey, "id"}, without(def.Required, "id")...)
		root.Definitions[tag.String()] = def
	}
	return root, nil
}

func without(values []string, drop string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
