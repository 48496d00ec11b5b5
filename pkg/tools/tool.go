package tools

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool defines the structural interface for any capability that the agent
// can execute. It includes metadata for the model (JSON Schema) and the
// execution logic itself.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema of the argument object.
	Parameters() map[string]any
	// Execute performs the tool logic. A returned error becomes the failure
	// text of the tool entry.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolResult is the outcome of one dispatched call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// GenerateSchema derives the JSON Schema of T. Fields without omitempty are
// required; descriptions come from jsonschema_description tags.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %T: %v", v, err))
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("tools: schema for %T: %v", v, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// DecodeArgs converts the argument object into T.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var v T
	b, err := json.Marshal(args)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, err
	}
	return v, nil
}
