// Package mcpfront exposes the editor's methods as MCP tools. Each tool call
// is forwarded to the editor through a Caller and the editor's JSON result is
// returned as text content. The server also offers workflow prompts and a
// project information resource.
package mcpfront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/editorclient"
	"github.com/ggoodman/unity-mcp-bridge/methods"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Caller sends one request to the editor. *editorclient.Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

var _ Caller = (*editorclient.Client)(nil)

// Option configures NewServer.
type Option func(*config)

type config struct {
	name    string
	version string
	log     *slog.Logger
}

// WithImplementation sets the server name and version reported to MCP clients.
func WithImplementation(name, version string) Option {
	return func(c *config) {
		c.name, c.version = name, version
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

type executeInput struct {
	Code string `json:"code" jsonschema:"C# statements to run inside the editor"`
}

type loadSceneInput struct {
	SceneName string `json:"sceneName,omitempty" jsonschema:"scene name as listed in build settings"`
	Index     *int   `json:"index,omitempty" jsonschema:"build settings index, used when sceneName is empty"`
}

type saveSceneInput struct {
	SaveAll bool `json:"saveAll,omitempty" jsonschema:"save every open scene instead of only the active one"`
}

type consoleInput struct {
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of entries to return, newest last"`
	Type  string `json:"type,omitempty" jsonschema:"only return entries of this type: log, warning or error"`
}

type enterPlayModeInput struct {
	PauseOnEnter bool `json:"pauseOnEnter,omitempty" jsonschema:"pause immediately after entering play mode"`
}

type noInput struct{}

type editorCommandInput struct {
	Command string         `json:"command" jsonschema:"one of select, transform, align, distribute, duplicate, delete, parent, component, find"`
	Params  map[string]any `json:"params,omitempty" jsonschema:"command arguments such as names for select or alignment for align"`
}

var editorCommands = []string{"select", "transform", "align", "distribute", "duplicate", "delete", "parent", "component", "find"}

// NewServer builds an MCP server whose tools forward to c.
func NewServer(c Caller, opts ...Option) *mcp.Server {
	cfg := &config{name: "unity-mcp", version: "dev", log: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}

	s := mcp.NewServer(&mcp.Implementation{Name: cfg.name, Version: cfg.version}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_execute_csharp",
		Description: "Execute C# code in the Unity Editor with full access to the editor API.",
	}, forward[executeInput](c, cfg.log, "execute_csharp"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_get_hierarchy",
		Description: "Get the Unity scene hierarchy with all GameObjects, components, and children.",
	}, forward[noInput](c, cfg.log, "scene_hierarchy"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_load_scene",
		Description: "Load a Unity scene by name or build index.",
	}, forward[loadSceneInput](c, cfg.log, "scene_load"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_save_scene",
		Description: "Save the current Unity scene or all open scenes.",
	}, forward[saveSceneInput](c, cfg.log, "scene_save"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_get_console_logs",
		Description: "Read recent entries from the Unity console.",
	}, forward[consoleInput](c, cfg.log, "console_get_logs"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_enter_play_mode",
		Description: "Enter Unity play mode for testing. Optionally pause on enter for debugging.",
	}, forward[enterPlayModeInput](c, cfg.log, "playmode_enter"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_exit_play_mode",
		Description: "Exit Unity play mode.",
	}, forward[noInput](c, cfg.log, "playmode_exit"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_playmode_status",
		Description: "Get Unity play mode status.",
	}, forward[noInput](c, cfg.log, "playmode_status"))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_list_methods",
		Description: "List the methods the connected editor accepts, with their parameter schemas.",
	}, forward[noInput](c, cfg.log, methods.DiscoverMethod))
	mcp.AddTool(s, &mcp.Tool{
		Name:        "unity_editor_command",
		Description: "Run a selection-based scene editing command (select, transform, align, distribute, duplicate, delete, parent, component, find).",
	}, editorCommand(c, cfg.log))

	addPrompts(s)
	addResources(s, c, cfg)
	return s
}

// editorCommand forwards to the editor_<command> methods.
func editorCommand(c Caller, log *slog.Logger) mcp.ToolHandlerFor[editorCommandInput, any] {
	handlers := make(map[string]mcp.ToolHandlerFor[map[string]any, any], len(editorCommands))
	for _, cmd := range editorCommands {
		handlers[cmd] = forward[map[string]any](c, log, "editor_"+cmd)
	}
	return func(ctx context.Context, req *mcp.CallToolRequest, in editorCommandInput) (*mcp.CallToolResult, any, error) {
		h, ok := handlers[in.Command]
		if !ok {
			return errorResult(fmt.Errorf("unknown editor command %q", in.Command)), nil, nil
		}
		params := in.Params
		if params == nil {
			params = map[string]any{}
		}
		return h(ctx, req, params)
	}
}

// forward returns a tool handler that sends its input as params to method.
// Editor and transport failures become tool errors so the model can see them.
func forward[In any](c Caller, log *slog.Logger, method string) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		start := time.Now()
		raw, err := c.Call(ctx, method, in)
		if err != nil {
			log.WarnContext(ctx, "mcpfront.call.fail", slog.String("method", method), slog.String("err", err.Error()), slog.Duration("elapsed", time.Since(start)))
			return errorResult(err), nil, nil
		}
		log.DebugContext(ctx, "mcpfront.call.ok", slog.String("method", method), slog.Duration("elapsed", time.Since(start)))

		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			buf.Reset()
			buf.Write(raw)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: buf.String()}},
		}, nil, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	var (
		rpcErr *editorclient.RPCError
		text   string
	)
	switch {
	case errors.As(err, &rpcErr):
		text = fmt.Sprintf("Unity error %d: %s", rpcErr.Code, rpcErr.Message)
	case errors.Is(err, editorclient.ErrNotConnected), errors.Is(err, editorclient.ErrConnectionLost):
		text = "Unity editor is not reachable: " + err.Error()
	case errors.Is(err, editorclient.ErrTimeout):
		text = "Unity editor did not respond in time: " + err.Error()
	default:
		text = err.Error()
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
