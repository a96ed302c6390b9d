package genaiutils_test

import (
	"testing"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llms/googleai/internal/genaiutils"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"google.golang.org/genai"
)

func Test_ConvertTools(t *testing.T) {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("city", &jsonschema.Schema{Type: "string", Description: "City name."})
	props.Set("days", &jsonschema.Schema{Type: "integer"})

	tools := []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "get_weather",
				Description: "Current weather for a city.",
				Parameters: &jsonschema.Schema{
					Type:       "object",
					Properties: props,
					Required:   []string{"city"},
				},
			},
		},
	}

	converted, err := genaiutils.ConvertTools(tools)
	require.NoError(t, err)
	require.Len(t, converted, 1)
	require.Len(t, converted[0].FunctionDeclarations, 1)

	decl := converted[0].FunctionDeclarations[0]
	assert.Equal(t, "get_weather", decl.Name)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"city"}, decl.Parameters.Required)
	require.Contains(t, decl.Parameters.Properties, "city")
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["city"].Type)
	assert.Equal(t, genai.TypeInteger, decl.Parameters.Properties["days"].Type)
}

func Test_ConvertTools_UnsupportedType(t *testing.T) {
	_, err := genaiutils.ConvertTools([]llms.Tool{{Type: "retrieval"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func Test_ConvertJSONSchemaDefinition_Array(t *testing.T) {
	schema, err := genaiutils.ConvertJSONSchemaDefinition(&jsonschema.Schema{
		Type:  "array",
		Items: &jsonschema.Schema{Type: "number"},
	})
	require.NoError(t, err)
	assert.Equal(t, genai.TypeArray, schema.Type)
	require.NotNil(t, schema.Items)
	assert.Equal(t, genai.TypeNumber, schema.Items.Type)
}
