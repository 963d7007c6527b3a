package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		wantCode ErrorCode
		wantID   string
		wantType string
	}{
		{name: "not json", in: `{nope`, wantCode: ErrorCodeParseError},
		{name: "batch", in: `[{"jsonrpc":"2.0","id":1,"method":"echo"}]`, wantCode: ErrorCodeInvalidRequest},
		{name: "scalar", in: `"x"`, wantCode: ErrorCodeInvalidRequest},
		{name: "wrong version keeps id", in: `{"jsonrpc":"1.0","id":"a","method":"m"}`, wantCode: ErrorCodeInvalidRequest, wantID: "a"},
		{name: "result and error", in: `{"jsonrpc":"2.0","id":7,"result":{},"error":{"code":1,"message":"x"}}`, wantCode: ErrorCodeInvalidRequest, wantID: "7"},
		{name: "request", in: `{"jsonrpc":"2.0","id":"r1","method":"scene_load","params":{"path":"a"}}`, wantID: "r1", wantType: "request"},
		{name: "notification", in: `{"jsonrpc":"2.0","method":"ping"}`, wantType: "notification"},
		{name: "response", in: `{"jsonrpc":"2.0","id":"x","result":{"ok":true}}`, wantID: "x", wantType: "response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, id, rpcErr := Decode([]byte(tt.in))
			if tt.wantCode != 0 {
				if rpcErr == nil {
					t.Fatalf("expected error code %d, got message %+v", tt.wantCode, msg)
				}
				if rpcErr.Code != tt.wantCode {
					t.Fatalf("code: want %d, got %d", tt.wantCode, rpcErr.Code)
				}
			} else if rpcErr != nil {
				t.Fatalf("unexpected error: %v", rpcErr)
			}
			if got := id.String(); got != tt.wantID {
				t.Fatalf("id: want %q, got %q", tt.wantID, got)
			}
			if tt.wantType != "" && msg.Type() != tt.wantType {
				t.Fatalf("type: want %s, got %s", tt.wantType, msg.Type())
			}
		})
	}
}

func TestResponseWithoutIDSerializesNull(t *testing.T) {
	t.Parallel()

	resp := NewErrorResponse(nil, ErrorCodeParseError, "Parse error", nil)
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	v, ok := m["id"]
	if !ok || v != nil {
		t.Fatalf("expected explicit null id, got %s", b)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`"abc"`, `42`, `1.5`} {
		var id RequestID
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		b, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal %s: %v", raw, err)
		}
		if string(b) != raw {
			t.Fatalf("round trip: want %s, got %s", raw, b)
		}
	}
}
