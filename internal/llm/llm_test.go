package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const replySchemaJSON = `{
	"type": "object",
	"properties": {
		"reply": {"type": "string"},
		"end_chat": {"type": "boolean"}
	},
	"required": ["reply", "end_chat"],
	"additionalProperties": false
}`

type reply struct {
	Reply   string `json:"reply"`
	EndChat bool   `json:"end_chat"`
}

func TestSchemaDecodeEnforcesShape(t *testing.T) {
	s := MustSchema("auto_reply", "reply", replySchemaJSON)

	var ok reply
	if err := s.Decode([]byte(`{"reply":"hi","end_chat":true}`), &ok); err != nil {
		t.Fatalf("Decode(valid) error = %v", err)
	}
	if ok.Reply != "hi" || !ok.EndChat {
		t.Fatalf("decoded = %+v", ok)
	}

	for _, raw := range []string{
		`{"reply":"hi"}`,
		`{"reply":"hi","end_chat":false,"mood":"happy"}`,
		`{"reply":1,"end_chat":false}`,
		`not json`,
	} {
		var r reply
		if err := s.Decode([]byte(raw), &r); !errors.Is(err, ErrSchemaViolation) {
			t.Fatalf("Decode(%s) error = %v, want ErrSchemaViolation", raw, err)
		}
	}
}

func TestNewSchemaRejectsNonObject(t *testing.T) {
	if _, err := NewSchema("bad", "", `{"type":"array"}`); err == nil {
		t.Fatalf("expected error for non-object schema")
	}
}

func TestMockSatisfiesSchema(t *testing.T) {
	s := MustSchema("auto_reply", "reply", replySchemaJSON)
	var r reply
	if err := NewMock().GenerateStructured(context.Background(), "", "", s, &r); err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if r.Reply == "" {
		t.Fatalf("mock reply empty")
	}
	got, _ := NewMock().Translate(context.Background(), "hello", "en", "es")
	if got != "[es] hello" {
		t.Fatalf("Translate() = %q", got)
	}
}

func fakeAnthropic(t *testing.T, respond func(req map[string]any) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(req)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func messageJSON(content string) string {
	return `{"id":"msg_1","type":"message","role":"assistant","model":"m","stop_reason":"end_turn",` +
		`"usage":{"input_tokens":1,"output_tokens":1},"content":[` + content + `]}`
}

func TestAnthropicTranslate(t *testing.T) {
	srv := fakeAnthropic(t, func(req map[string]any) string {
		system, _ := json.Marshal(req["system"])
		if !strings.Contains(string(system), "from en to es") {
			t.Errorf("system prompt = %s", system)
		}
		return messageJSON(`{"type":"text","text":" Hola, ¿cómo estás? "}`)
	})
	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: 0})
	got, err := c.Translate(context.Background(), "Hello, how are you?", "en", "es")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "Hola, ¿cómo estás?" {
		t.Fatalf("Translate() = %q", got)
	}
}

func TestAnthropicGenerateStructuredForcesTool(t *testing.T) {
	srv := fakeAnthropic(t, func(req map[string]any) string {
		choice, _ := req["tool_choice"].(map[string]any)
		if choice["type"] != "tool" || choice["name"] != "auto_reply" {
			t.Errorf("tool_choice = %v", req["tool_choice"])
		}
		return messageJSON(`{"type":"tool_use","id":"tu_1","name":"auto_reply","input":{"reply":"Sure!","end_chat":false}}`)
	})
	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	var r reply
	if err := c.GenerateStructured(context.Background(), "sys", "user", MustSchema("auto_reply", "reply", replySchemaJSON), &r); err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if r.Reply != "Sure!" || r.EndChat {
		t.Fatalf("reply = %+v", r)
	}
}

func TestAnthropicGenerateStructuredSchemaViolation(t *testing.T) {
	srv := fakeAnthropic(t, func(map[string]any) string {
		return messageJSON(`{"type":"tool_use","id":"tu_1","name":"auto_reply","input":{"reply":"x","end_chat":false,"extra":1}}`)
	})
	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	var r reply
	err := c.GenerateStructured(context.Background(), "sys", "user", MustSchema("auto_reply", "reply", replySchemaJSON), &r)
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("error = %v, want ErrSchemaViolation", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	m, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := m.(*Mock); !ok {
		t.Fatalf("New() without key = %T, want *Mock", m)
	}
	m, err = New(Options{APIKey: "k"})
	if err != nil {
		t.Fatalf("New(key) error = %v", err)
	}
	if _, ok := m.(*AnthropicClient); !ok {
		t.Fatalf("New(key) = %T, want *AnthropicClient", m)
	}
	if _, err := New(Options{Provider: "anthropic"}); err == nil {
		t.Fatalf("New(anthropic without key) should fail")
	}
}
