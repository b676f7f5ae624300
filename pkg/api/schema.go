package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// submitSchema validates the decision submission payload before it reaches
// the orchestrator. Amounts and prices arrive as JSON strings so decimal
// precision survives the wire.
const submitSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "user_id", "amount"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"user_id": {"type": "string", "minLength": 1},
		"asset": {"type": "string"},
		"amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
		"target_address": {"type": "string"},
		"price": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
		"reasoning": {"type": "string"},
		"parameters": {"type": "object"}
	},
	"additionalProperties": false
}`

func compileSubmitSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://verdict.schemas.local/decisions/submit.schema.json"
	if err := c.AddResource(url, strings.NewReader(submitSchema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return compiled, nil
}
