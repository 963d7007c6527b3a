package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(slog.NewJSONHandler(&buf, nil)).With(slog.String("component", "test"))

	ctx := WithSessionData(context.Background(), &SessionData{SessionID: "s1", RemoteAddr: "127.0.0.1:5000"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "scene_load", ID: "r1", Type: "request"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["component"] != "test" {
		t.Fatalf("With attrs lost: %s", buf.String())
	}
	sess, _ := rec["sess"].(map[string]any)
	if sess["id"] != "s1" {
		t.Fatalf("missing sess group: %s", buf.String())
	}
	rpc, _ := rec["rpc"].(map[string]any)
	if rpc["method"] != "scene_load" || rpc["id"] != "r1" {
		t.Fatalf("missing rpc group: %s", buf.String())
	}
}
