// Command editor-sim runs the editor side of the bridge against a simulated
// editor. It serves the same methods and honors the same settings file as the
// real editor integration, which makes it useful for exercising MCP clients
// without an editor open.
//
// Environment:
//
//	UNITY_MCP_SETTINGS       settings file (default .unity-mcp/settings.yaml)
//	UNITY_MCP_DIRECTORY      "redis" to announce the instance in Redis
//	UNITY_MCP_JWT_*, UNITY_MCP_OIDC_ISSUER, UNITY_MCP_JWKS_URL
//	                         bearer-token checks for remote peers
//
// plus every UNITY_MCP_* override understood by the settings package.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery/redisdir"
	"github.com/ggoodman/unity-mcp-bridge/editorserver"
	"github.com/ggoodman/unity-mcp-bridge/internal/jwtauth"
	"github.com/ggoodman/unity-mcp-bridge/internal/logctx"
	"github.com/ggoodman/unity-mcp-bridge/internal/simhost"
	"github.com/ggoodman/unity-mcp-bridge/mainthread"
	"github.com/ggoodman/unity-mcp-bridge/settings"
	"golang.org/x/sync/errgroup"
)

const pumpInterval = 10 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "editor-sim:", err)
		os.Exit(1)
	}
}

func run() error {
	var level slog.LevelVar
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

	host := simhost.New(simhost.WithLogger(log))
	reg, err := host.Registry()
	if err != nil {
		return err
	}
	disp := mainthread.New(
		mainthread.WithBusyCheck(host.BusyCheck),
		mainthread.WithLogger(log),
		mainthread.WithDefaultTimeout(st.RequestTimeout),
	)

	opts := []editorserver.Option{
		editorserver.WithSettings(st),
		editorserver.WithLogger(log),
		editorserver.WithLevelVar(&level),
	}

	auth, err := jwtauth.NewFromEnv(ctx)
	if err != nil {
		return err
	}
	if auth != nil {
		opts = append(opts, editorserver.WithAuthenticator(auth))
	} else if st.AllowRemoteConnections {
		log.Warn("editor-sim.auth.disabled", slog.String("reason", "remote connections allowed without a token authenticator"))
	}

	if os.Getenv("UNITY_MCP_DIRECTORY") == "redis" {
		dir, err := redisdir.NewFromEnv(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = dir.Close() }()
		opts = append(opts, editorserver.WithDirectory(dir, st.InstanceName))
	}

	srv := editorserver.New(reg, disp, opts...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		disp.Run(gctx, pumpInterval)
		return nil
	})

	if st.AutoStart {
		if err := srv.Start(gctx); err != nil {
			return err
		}
	} else {
		log.Info("editor-sim.autostart.off")
	}

	err = settings.Watch(gctx, path, func(next settings.Settings, err error) {
		if err != nil {
			log.Warn("editor-sim.settings.fail", slog.String("err", err.Error()))
			return
		}
		applySettings(gctx, log, srv, next)
	})
	if err != nil {
		log.Warn("editor-sim.settings.watch.fail", slog.String("err", err.Error()))
	}

	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop()
	})

	return g.Wait()
}

func applySettings(ctx context.Context, log *slog.Logger, srv *editorserver.Server, st settings.Settings) {
	log.Info("editor-sim.settings.reload", slog.Int("port", st.Port), slog.Bool("auto_start", st.AutoStart))

	if srv.Reconfigure(st) {
		if err := srv.Stop(); err != nil {
			log.Warn("editor-sim.restart.stop.fail", slog.String("err", err.Error()))
		}
	}

	switch {
	case st.AutoStart && !srv.Running():
		if err := srv.Start(ctx); err != nil {
			log.Error("editor-sim.restart.fail", slog.String("err", err.Error()))
		}
	case !st.AutoStart && srv.Running():
		if err := srv.Stop(); err != nil {
			log.Warn("editor-sim.stop.fail", slog.String("err", err.Error()))
		}
	}
}
