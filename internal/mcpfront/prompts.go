package mcpfront

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// workflow is a prompt with a single argument. Its body is a format string
// whose %[1]s verbs receive the argument.
type workflow struct {
	name        string
	description string
	arg         string
	argDesc     string
	fallback    string // used when the argument is optional and missing
	body        string
}

var workflows = []workflow{
	{
		name:        "unity_editor_automation",
		description: "Get help with Unity Editor automation tasks",
		arg:         "task",
		argDesc:     "The Unity Editor automation task you need help with",
		body: `I'll help you automate the Unity Editor for: %[1]s

Available capabilities:
- GameObject selection and manipulation (unity_editor_command)
- Transform operations: position, rotation, scale
- Batch alignment, distribution and duplication
- Play mode control (unity_enter_play_mode, unity_exit_play_mode, unity_playmode_status)
- Scene loading, saving and hierarchy inspection
- Console log monitoring (unity_get_console_logs)
- Arbitrary editor scripting (unity_execute_csharp)

Use unity_list_methods to see exactly what the connected editor accepts.

What specific editor automation do you need?`,
	},
	{
		name:        "unity_scene_setup",
		description: "Guide for setting up a Unity scene with common objects",
		arg:         "scene_type",
		argDesc:     "Type of scene to set up (e.g. 'gameplay', 'menu', 'test')",
		body: `Setting up a %[1]s scene in Unity:

1. **Load or create the scene**: unity_load_scene, or unity_execute_csharp for a new one
2. **Add essential objects**: camera, directional light, environment
3. **Check the result**: unity_get_hierarchy
4. **Arrange objects**: unity_editor_command with select, transform and parent
5. **Save**: unity_save_scene

What would you like to add to your %[1]s scene?`,
	},
	{
		name:        "unity_testing_workflow",
		description: "Automated testing workflow for Unity game objects",
		arg:         "test_scenario",
		argDesc:     "What you want to test (e.g. 'player movement', 'enemy AI')",
		body: `Automated testing workflow for: %[1]s

1. **Prepare**: select the target objects with unity_editor_command
2. **Enter play mode**: unity_enter_play_mode, with pauseOnEnter to step through
3. **Exercise**: drive the scenario with unity_execute_csharp
4. **Monitor**: unity_get_console_logs with type "error"
5. **Exit play mode**: unity_exit_play_mode
6. **Review**: compare the logs and hierarchy with what you expected

Editor calls fail with a busy error while scripts compile; retry after unity_playmode_status succeeds.

What specific test actions do you need for %[1]s?`,
	},
	{
		name:        "unity_prefab_workflow",
		description: "Guide for creating and managing prefabs",
		arg:         "prefab_name",
		argDesc:     "Name of the prefab to create",
		body: `Creating prefab: %[1]s

1. **Select object(s)**: unity_editor_command select
2. **Configure**: unity_editor_command transform and component
3. **Create the prefab**: unity_execute_csharp with PrefabUtility.SaveAsPrefabAsset
4. **Verify**: unity_get_console_logs for import errors
5. **Test**: duplicate it into the scene with unity_editor_command duplicate

What components or properties should %[1]s have?`,
	},
	{
		name:        "unity_debug_workflow",
		description: "Debugging workflow for Unity issues",
		arg:         "issue",
		argDesc:     "The issue you're debugging",
		fallback:    "general issue",
		body: `Debugging Unity issue: %[1]s

1. **Check console logs**: unity_get_console_logs
2. **Inspect the scene**: unity_get_hierarchy
3. **Find objects**: unity_editor_command find by name or component type
4. **Reproduce**: unity_enter_play_mode, paused if needed
5. **Watch behavior**: read the console again while playing
6. **Clean up**: unity_editor_command delete or component remove

What specifically needs debugging for %[1]s?`,
	},
	{
		name:        "unity_alignment_workflow",
		description: "Batch operations and alignment workflow",
		arg:         "operation",
		argDesc:     "Alignment operation (e.g. 'grid layout', 'circular arrangement')",
		body: `Batch %[1]s workflow:

1. **Select objects**: unity_editor_command select by names, tag or pattern
2. **Align**: unity_editor_command align (left, right, top, bottom, center-horizontal, center-vertical)
3. **Distribute**: unity_editor_command distribute (horizontal or vertical)
4. **Fine-tune**: unity_editor_command transform with moveBy, rotateBy or scaleBy
5. **Verify**: unity_get_hierarchy

What layout pattern do you need for %[1]s?`,
	},
}

func addPrompts(s *mcp.Server) {
	for _, w := range workflows {
		s.AddPrompt(&mcp.Prompt{
			Name:        w.name,
			Description: w.description,
			Arguments: []*mcp.PromptArgument{{
				Name:        w.arg,
				Description: w.argDesc,
				Required:    w.fallback == "",
			}},
		}, w.handle)
	}
}

func (w workflow) handle(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	v := strings.TrimSpace(req.Params.Arguments[w.arg])
	if v == "" {
		if w.fallback == "" {
			return nil, fmt.Errorf("prompt %s: argument %q is required", w.name, w.arg)
		}
		v = w.fallback
	}
	return &mcp.GetPromptResult{
		Description: w.description,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: fmt.Sprintf(w.body, v)}},
		},
	}, nil
}
