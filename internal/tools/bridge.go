package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/samestrin/codex-tools-mcp/internal/mcp"
	"github.com/tidwall/gjson"
)

// PatchApplier applies a patch document. It writes human readable output to
// stdout and diagnostics to stderr, and may have changed the filesystem even
// when it returns an error.
type PatchApplier interface {
	Apply(patch string, stdout, stderr io.Writer) error
}

type toolHandler func(b *Bridge, args json.RawMessage) (*mcp.ToolsCallResult, *mcp.Fault)

var toolHandlers = map[string]toolHandler{
	UpdatePlanName: (*Bridge).updatePlan,
	ApplyPatchName: (*Bridge).applyPatch,
}

// Bridge implements mcp.ToolInvoker for the catalog in this package
type Bridge struct {
	applier    PatchApplier
	logger     *slog.Logger
	planSchema *jsonschema.Resolved
}

// NewBridge creates a Bridge that sends apply_patch calls to applier
func NewBridge(applier PatchApplier, logger *slog.Logger) (*Bridge, error) {
	if applier == nil {
		return nil, fmt.Errorf("patch applier is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	resolved, err := UpdatePlanSchema().Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve update_plan schema: %w", err)
	}

	return &Bridge{
		applier:    applier,
		logger:     logger,
		planSchema: resolved,
	}, nil
}

// Tools returns the catalog
func (b *Bridge) Tools() []mcp.Tool {
	return List()
}

// CallTool routes a call to the named tool
func (b *Bridge) CallTool(name string, args json.RawMessage) (*mcp.ToolsCallResult, *mcp.Fault) {
	if _, ok := Lookup(name); !ok {
		b.logger.Warn("unknown tool requested", "tool", name)
		return nil, mcp.NewMethodNotFoundError("Unknown tool: " + name)
	}
	handler, ok := toolHandlers[name]
	if !ok {
		b.logger.Error("catalog tool has no handler", "tool", name)
		return nil, mcp.NewMethodNotFoundError("Unknown tool: " + name)
	}
	return handler(b, args)
}

type planStep struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

type planArgs struct {
	Explanation string     `json:"explanation"`
	Plan        []planStep `json:"plan"`
}

// updatePlan records nothing and always succeeds. The schema is advisory:
// mismatches are logged, never rejected.
func (b *Bridge) updatePlan(args json.RawMessage) (*mcp.ToolsCallResult, *mcp.Fault) {
	b.logger.Info("received update_plan call")
	b.checkPlan(args)

	return &mcp.ToolsCallResult{
		Content: []mcp.TextContent{mcp.NewTextContent("Plan updated")},
	}, nil
}

func (b *Bridge) checkPlan(args json.RawMessage) {
	var instance any
	if len(args) == 0 || json.Unmarshal(args, &instance) != nil {
		b.logger.Warn("update_plan called without usable arguments")
		return
	}
	if err := b.planSchema.Validate(instance); err != nil {
		b.logger.Warn("update_plan arguments do not match schema", "error", err)
	}

	var plan planArgs
	if err := json.Unmarshal(args, &plan); err != nil {
		return
	}
	inProgress := 0
	for _, step := range plan.Plan {
		if step.Status == StatusInProgress {
			inProgress++
		}
		b.logger.Debug("plan step", "step", step.Step, "status", step.Status)
	}
	if inProgress > 1 {
		b.logger.Warn("plan has more than one in_progress step", "count", inProgress)
	}
}

// applyPatch validates arguments and hands the patch to the applier
func (b *Bridge) applyPatch(args json.RawMessage) (*mcp.ToolsCallResult, *mcp.Fault) {
	if args == nil {
		return nil, mcp.NewInvalidParamsError("apply_patch requires arguments")
	}
	doc := gjson.ParseBytes(args)
	if !doc.IsObject() {
		return nil, mcp.NewInvalidParamsError("apply_patch arguments must be an object")
	}
	input := doc.Get("input")
	if input.Type != gjson.String {
		return nil, mcp.NewInvalidParamsError("apply_patch input must be provided as a string")
	}

	patch := input.Str
	b.logger.Info("running apply_patch", "size", humanize.Bytes(uint64(len(patch))))

	var stdout, stderr bytes.Buffer
	err := b.applier.Apply(patch, &stdout, &stderr)
	if err != nil {
		b.logger.Warn("apply_patch failed", "error", err)
	} else {
		b.logger.Info("apply_patch completed successfully")
	}

	return patchResult(err, lossyString(stdout.Bytes()), lossyString(stderr.Bytes())), nil
}

// patchResult builds the content blocks for an apply_patch outcome.
// Order: failure message, stdout, stderr.
func patchResult(applyErr error, stdout, stderr string) *mcp.ToolsCallResult {
	var blocks []mcp.TextContent
	if applyErr != nil {
		blocks = append(blocks, mcp.NewTextContent("apply_patch failed: "+applyErr.Error()))
	}
	if strings.TrimSpace(stdout) != "" {
		blocks = append(blocks, mcp.NewTextContent(strings.TrimRight(stdout, "\n")))
	}
	if strings.TrimSpace(stderr) != "" {
		blocks = append(blocks, mcp.NewTextContent("stderr:\n"+strings.TrimRight(stderr, "\n")))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, mcp.NewTextContent("Patch applied"))
	}

	return &mcp.ToolsCallResult{
		Content: blocks,
		IsError: applyErr != nil,
	}
}

func lossyString(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
