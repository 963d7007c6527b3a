// Command unity-mcp is an MCP server on stdio that forwards tool calls to a
// running editor.
//
// The editor is found, in order, through UNITY_MCP_URL, through the Redis
// instance directory when UNITY_MCP_DIRECTORY=redis (looking up the instance
// named by the settings), or at ws://127.0.0.1:<port> using the port from the
// settings file. UNITY_MCP_TOKEN is sent as a bearer token when set.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
	"github.com/ggoodman/unity-mcp-bridge/discovery/redisdir"
	"github.com/ggoodman/unity-mcp-bridge/editorclient"
	"github.com/ggoodman/unity-mcp-bridge/internal/logctx"
	"github.com/ggoodman/unity-mcp-bridge/internal/mcpfront"
	"github.com/ggoodman/unity-mcp-bridge/settings"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "unity-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	var level slog.LevelVar
	// stdout carries the MCP stream; logs go to stderr.
	log := logctx.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(log)

	path := settings.DefaultPath
	if p := os.Getenv("UNITY_MCP_SETTINGS"); p != "" {
		path = p
	}
	st, err := settings.Load(path)
	if err != nil {
		return err
	}
	level.Set(st.LogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []editorclient.Option{
		editorclient.WithLogger(log),
		editorclient.WithPort(st.Port),
		editorclient.WithRequestTimeout(st.RequestTimeout),
	}
	if u := os.Getenv("UNITY_MCP_URL"); u != "" {
		opts = append(opts, editorclient.WithURL(u))
	}
	if tok := os.Getenv("UNITY_MCP_TOKEN"); tok != "" {
		opts = append(opts, editorclient.WithBearerToken(tok))
	}
	if os.Getenv("UNITY_MCP_DIRECTORY") == "redis" {
		dir, err := redisdir.NewFromEnv(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = dir.Close() }()
		opts = append(opts, editorclient.WithEndpointResolver(discovery.Resolver(dir, st.InstanceName)))
	}

	client := editorclient.New(opts...)
	defer func() { _ = client.Close() }()

	// Connect eagerly so a misconfiguration shows up in the log at startup.
	// Failure is not fatal; calls connect lazily.
	if err := client.Connect(ctx); err != nil {
		log.Warn("unity-mcp.connect.fail", slog.String("err", err.Error()))
	}

	srv := mcpfront.NewServer(client, mcpfront.WithLogger(log), mcpfront.WithImplementation("unity-mcp", version))
	log.Info("unity-mcp.start", slog.String("version", version))
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
