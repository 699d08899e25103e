package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reminator329/trainingbook/internal/entity"
)

func TestSchemaDescribesTaggedRecords(t *testing.T) {
	r := entity.NewRegistry()
	entity.MustRegister[movement](r, entity.Tag{Class: "Movement", Module: "test"})
	entity.MustRegister[routine](r, entity.Tag{Class: "Routine", Module: "test"})

	schema, err := Schema(r)
	require.NoError(t, err)
	require.Len(t, schema.Definitions, 2)

	def, ok := schema.Definitions["test.Movement"]
	require.True(t, ok)
	require.Equal(t, []string{ClassKey, ModuleKey, "id", "name"}, def.Required)

	keys := make([]string, 0)
	for pair := def.Properties.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	require.Equal(t, []string{ClassKey, ModuleKey, "id", "name"}, keys)

	class, ok := def.Properties.Get(ClassKey)
	require.True(t, ok)
	require.Equal(t, "Movement", class.Const)

	slots, ok := schema.Definitions["test.Routine"].Properties.Get("slots")
	require.True(t, ok)
	require.Equal(t, "array", slots.Type)
}
