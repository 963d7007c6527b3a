package mcpfront

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/editorclient"
	"github.com/ggoodman/unity-mcp-bridge/editorserver"
	"github.com/ggoodman/unity-mcp-bridge/internal/jsonrpc"
	"github.com/ggoodman/unity-mcp-bridge/internal/simhost"
	"github.com/ggoodman/unity-mcp-bridge/internal/testlog"
	"github.com/ggoodman/unity-mcp-bridge/mainthread"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connect(t *testing.T, c Caller) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	srv := NewServer(c, WithLogger(testlog.Logger(t)), WithImplementation("unity-mcp-test", "v0"))
	ct, st := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e", Version: "0.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %d items", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T", res.Content[0])
	}
	return tc.Text
}

// startBridge runs the simulated editor behind a real listener and returns a
// client pointed at it.
func startBridge(t *testing.T, opts ...simhost.Option) (*simhost.Host, *editorclient.Client) {
	t.Helper()

	host := simhost.New(append([]simhost.Option{simhost.WithLogger(testlog.Logger(t))}, opts...)...)
	reg, err := host.Registry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d := mainthread.New(mainthread.WithBusyCheck(host.BusyCheck), mainthread.WithLogger(testlog.Logger(t)))
	go d.Run(ctx, time.Millisecond)

	es := editorserver.New(reg, d, editorserver.WithPort(0), editorserver.WithLogger(testlog.Logger(t)))
	if err := es.Start(ctx); err != nil {
		t.Fatalf("start editor: %v", err)
	}
	t.Cleanup(func() { _ = es.Stop() })

	c := editorclient.New(
		editorclient.WithURL("ws://"+es.Addr().String()),
		editorclient.WithLogger(testlog.Logger(t)),
	)
	t.Cleanup(func() { _ = c.Close() })
	return host, c
}

func TestToolsAreListed(t *testing.T) {
	t.Parallel()

	cs := connect(t, nil)
	lt, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	got := make(map[string]bool, len(lt.Tools))
	for _, tool := range lt.Tools {
		got[tool.Name] = true
	}
	for _, name := range []string{
		"unity_execute_csharp", "unity_get_hierarchy", "unity_load_scene", "unity_save_scene",
		"unity_get_console_logs", "unity_enter_play_mode", "unity_exit_play_mode",
		"unity_playmode_status", "unity_list_methods", "unity_editor_command",
	} {
		if !got[name] {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	host, c := startBridge(t)
	cs := connect(t, c)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "unity_load_scene",
		Arguments: map[string]any{"sceneName": "Level1"},
	})
	if err != nil {
		t.Fatalf("load scene: %v", err)
	}
	if res.IsError || !strings.Contains(text(t, res), "Loaded scene: Level1") {
		t.Fatalf("load scene result: %s", text(t, res))
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "unity_get_hierarchy", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	var h simhost.Hierarchy
	if err := json.Unmarshal([]byte(text(t, res)), &h); err != nil {
		t.Fatalf("decode hierarchy: %v", err)
	}
	if h.Scene != "Level1" {
		t.Fatalf("scene = %q", h.Scene)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "unity_list_methods", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("list methods: %v", err)
	}
	if !strings.Contains(text(t, res), "execute_csharp") {
		t.Fatalf("discover result: %s", text(t, res))
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "unity_editor_command",
		Arguments: map[string]any{"command": "select", "params": map[string]any{"names": []string{"Main Camera"}}},
	})
	if err != nil {
		t.Fatalf("editor command: %v", err)
	}
	if res.IsError || !strings.Contains(text(t, res), "Selected 1 objects") {
		t.Fatalf("select result: %s", text(t, res))
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "unity_editor_command",
		Arguments: map[string]any{"command": "explode"},
	})
	if err != nil {
		t.Fatalf("unknown editor command: %v", err)
	}
	if !res.IsError || !strings.Contains(text(t, res), "unknown editor command") {
		t.Fatalf("unknown command result: %s", text(t, res))
	}

	host.SetCompiling(true)
	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "unity_playmode_status", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("status while compiling: %v", err)
	}
	if !res.IsError || !strings.Contains(text(t, res), simhost.CompilingReason) {
		t.Fatalf("expected busy tool error, got %q", text(t, res))
	}
}

func TestRecompileMakesEditorBusy(t *testing.T) {
	t.Parallel()

	host, c := startBridge(t, simhost.WithCompileTime(300*time.Millisecond))
	cs := connect(t, c)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "unity_execute_csharp",
		Arguments: map[string]any{"code": "UnityEditor.AssetDatabase.Refresh();"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError || !strings.Contains(text(t, res), `"recompiling": true`) {
		t.Fatalf("execute result: %s", text(t, res))
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "unity_playmode_status", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !res.IsError || !strings.Contains(text(t, res), "-32001") || !strings.Contains(text(t, res), simhost.CompilingReason) {
		t.Fatalf("expected busy error while compiling, got %q", text(t, res))
	}

	deadline := time.Now().Add(5 * time.Second)
	for host.Compiling() {
		if time.Now().After(deadline) {
			t.Fatal("recompile never finished")
		}
		time.Sleep(20 * time.Millisecond)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "unity_playmode_status", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if res.IsError {
		t.Fatalf("editor still busy after recompile: %s", text(t, res))
	}
}

type failingCaller struct{ err error }

func (f failingCaller) Call(context.Context, string, any) (json.RawMessage, error) {
	return nil, f.err
}

func TestErrorsBecomeToolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "remote error",
			err:  &editorclient.RPCError{Code: jsonrpc.ErrorCodeMethodNotFound, Message: "Method not found: scene_hierarchy"},
			want: "Unity error -32601: Method not found: scene_hierarchy",
		},
		{
			name: "not connected",
			err:  editorclient.ErrNotConnected,
			want: "Unity editor is not reachable",
		},
		{
			name: "timeout",
			err:  editorclient.ErrTimeout,
			want: "did not respond in time",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cs := connect(t, failingCaller{err: tc.err})
			res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "unity_get_hierarchy", Arguments: map[string]any{}})
			if err != nil {
				t.Fatalf("call tool: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected IsError")
			}
			if got := text(t, res); !strings.Contains(got, tc.want) {
				t.Fatalf("text = %q, want it to contain %q", got, tc.want)
			}
		})
	}
}
