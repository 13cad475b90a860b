package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestAnyMessageClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		typ  string
	}{
		{"request", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "request"},
		{"string id", `{"jsonrpc":"2.0","id":"abc","method":"ping"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, "response"},
		{"error response", `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.body), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Type(); got != tc.typ {
				t.Fatalf("Type() = %q, want %q", got, tc.typ)
			}
		})
	}
}

func TestAnyMessageRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`},
		{"missing version", `{"id":1,"method":"ping"}`},
		{"method with result", `{"jsonrpc":"2.0","id":1,"method":"ping","result":{}}`},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`},
		{"neither", `{"jsonrpc":"2.0","id":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m AnyMessage
			if err := json.Unmarshal([]byte(tc.body), &m); err == nil {
				t.Fatalf("expected error for %s", tc.body)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`42`, `42`},
		{`"req-1"`, `"req-1"`},
		{`1.5`, `1.5`},
	}
	for _, tc := range cases {
		var id RequestID
		if err := json.Unmarshal([]byte(tc.raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != tc.want {
			t.Fatalf("round trip %s = %s, want %s", tc.raw, out, tc.want)
		}
	}
}

func TestRequestIDNil(t *testing.T) {
	var id *RequestID
	if !id.IsNil() {
		t.Fatal("nil pointer should be nil ID")
	}
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"x"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !req.IsNotification() {
		t.Fatal("request without id should be a notification")
	}
}

func TestErrorCodeHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrorCodeParseError:          400,
		ErrorCodeInvalidRequest:      400,
		ErrorCodeUnsupportedProtocol: 400,
		ErrorCodeUnauthenticated:     401,
		ErrorCodeInvalidCredential:   401,
		ErrorCodeForbidden:           403,
		ErrorCodeMethodNotFound:      404,
		ErrorCodeRateLimited:         429,
		ErrorCodeInternalError:       500,
		ErrorCodeToolExecution:       500,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Fatalf("HTTPStatus(%d) = %d, want %d", code, got, want)
		}
	}
}
