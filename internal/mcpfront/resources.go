package mcpfront

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/methods"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProjectInfoURI names the resource describing this server and the editor
// behind it.
const ProjectInfoURI = "unity://project/info"

const discoverTimeout = 2 * time.Second

// ProjectInfo is the JSON body of the project information resource.
type ProjectInfo struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Features    []string   `json:"features"`
	Prompts     []string   `json:"prompts"`
	Editor      EditorInfo `json:"editor"`
}

// EditorInfo reports whether the editor answered and what it accepts.
type EditorInfo struct {
	Connected bool     `json:"connected"`
	Methods   []string `json:"methods,omitempty"`
	Error     string   `json:"error,omitempty"`
}

var features = []string{
	"Real-time Unity Editor control over a WebSocket JSON-RPC bridge",
	"GameObject selection and manipulation",
	"Transform operations (move, rotate, scale)",
	"Batch alignment, distribution and duplication",
	"Play mode control and console monitoring",
	"Scene loading, saving and hierarchy inspection",
	"C# execution inside the editor",
}

func addResources(s *mcp.Server, c Caller, cfg *config) {
	s.AddResource(&mcp.Resource{
		URI:         ProjectInfoURI,
		Name:        "Unity Project Information",
		Description: "Information about the Unity MCP server, its capabilities and the connected editor",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		info := ProjectInfo{
			Name:        cfg.name,
			Version:     cfg.version,
			Description: "Model Context Protocol server for Unity Editor automation",
			Features:    features,
			Editor:      editorInfo(ctx, c, cfg.log),
		}
		for _, w := range workflows {
			info.Prompts = append(info.Prompts, w.name)
		}
		b, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: ProjectInfoURI, MIMEType: "application/json", Text: string(b)}},
		}, nil
	})
}

// editorInfo asks the editor for its method table. An unreachable editor is
// reported in the result, not as a read failure.
func editorInfo(ctx context.Context, c Caller, log *slog.Logger) EditorInfo {
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	raw, err := c.Call(ctx, methods.DiscoverMethod, nil)
	if err != nil {
		log.DebugContext(ctx, "mcpfront.resource.editor_unavailable", slog.String("err", err.Error()))
		return EditorInfo{Error: err.Error()}
	}
	var ds []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &ds); err != nil {
		return EditorInfo{Connected: true, Error: "unreadable method list: " + err.Error()}
	}
	info := EditorInfo{Connected: true, Methods: make([]string, 0, len(ds))}
	for _, d := range ds {
		info.Methods = append(info.Methods, d.Name)
	}
	return info
}
