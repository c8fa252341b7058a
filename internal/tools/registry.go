// Package tools holds the static tool catalog served by tools/list and the
// bridge that turns tools/call requests into tool invocations.
package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/samestrin/codex-tools-mcp/internal/mcp"
)

// Tool names
const (
	UpdatePlanName = "update_plan"
	ApplyPatchName = "apply_patch"
)

// Plan step statuses accepted by update_plan
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

const updatePlanDescription = "Updates the task plan. Provide an optional explanation and a list of plan items, each with a step and status. At most one step can be in_progress at a time."

//go:embed descriptions/apply_patch.txt
var applyPatchDescription string

// catalog is built on first use and never mutated afterwards
var catalog = sync.OnceValue(func() []mcp.Tool {
	return []mcp.Tool{
		mustTool(UpdatePlanName, updatePlanDescription, UpdatePlanSchema()),
		mustTool(ApplyPatchName, strings.TrimSpace(applyPatchDescription), ApplyPatchSchema()),
	}
})

// List returns the tool descriptors in advertised order
func List() []mcp.Tool {
	tools := catalog()
	out := make([]mcp.Tool, len(tools))
	copy(out, tools)
	return out
}

// Lookup returns the descriptor for name
func Lookup(name string) (mcp.Tool, bool) {
	for _, tool := range catalog() {
		if tool.Name == name {
			return tool, true
		}
	}
	return mcp.Tool{}, false
}

// UpdatePlanSchema returns the input schema for update_plan
func UpdatePlanSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"explanation": {Type: "string"},
			"plan": {
				Type:        "array",
				Description: "The list of steps",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"step": {Type: "string"},
						"status": {
							Type:        "string",
							Description: "One of: pending, in_progress, completed",
							Enum:        []any{StatusPending, StatusInProgress, StatusCompleted},
						},
					},
					Required:             []string{"step", "status"},
					AdditionalProperties: closedObject(),
				},
			},
		},
		Required:             []string{"plan"},
		AdditionalProperties: closedObject(),
	}
}

// ApplyPatchSchema returns the input schema for apply_patch
func ApplyPatchSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"input": {
				Type:        "string",
				Description: "The entire contents of the apply_patch command",
			},
		},
		Required:             []string{"input"},
		AdditionalProperties: closedObject(),
	}
}

// closedObject is the schema that matches nothing; it marshals as false
func closedObject() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func mustTool(name, description string, schema *jsonschema.Schema) mcp.Tool {
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal %s schema: %v", name, err))
	}
	return mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: raw,
	}
}
