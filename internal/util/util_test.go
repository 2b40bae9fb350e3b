package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate(`Hello {{.user_name}} ({{default "Employee" .user_role}}) & <welcome>`, map[string]any{
		"user_name": "Ana",
		"user_role": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana (Employee) & <welcome>", out)
}

func TestRenderTemplate_NoMarkers(t *testing.T) {
	out, err := RenderTemplate("static text", nil)
	require.NoError(t, err)
	assert.Equal(t, "static text", out)
}

type searchArgs struct {
	Query string `json:"query" description:"search terms"`
	Limit int    `json:"limit,omitempty"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(searchArgs{})

	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "string", props["query"].(map[string]any)["type"])
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, []string{"query"}, schema["required"])
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(searchArgs{})

	assert.NoError(t, ValidateParameters(map[string]any{"query": "pto"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "query")

	err = ValidateParameters(map[string]any{"query": 42}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)
}
