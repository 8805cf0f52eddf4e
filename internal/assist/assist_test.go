package assist

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ent0n29/chattoz/internal/llm"
	"github.com/ent0n29/chattoz/internal/protocol"
	"github.com/ent0n29/chattoz/internal/session"
)

type scriptedGenerator struct {
	raw    string
	err    error
	calls  int
	system string
	user   string
	schema string
}

func (g *scriptedGenerator) GenerateStructured(_ context.Context, system, user string, schema *llm.Schema, out any) error {
	g.calls++
	g.system, g.user, g.schema = system, user, schema.Name
	if g.err != nil {
		return g.err
	}
	return schema.Decode([]byte(g.raw), out)
}

var history = []session.Message{
	{Role: protocol.RoleHost, Original: "Hello, how are you?", Translated: "Hola, ¿cómo estás?"},
	{Role: protocol.RoleGuest, Original: "Muy bien, ¿y tú?", Translated: "Very well, and you?"},
}

func TestSuggestionsEmptyHistorySkipsCollaborator(t *testing.T) {
	gen := &scriptedGenerator{}
	got, err := New(gen, Options{}).Suggestions(context.Background(), protocol.RoleHost, "en", nil, []string{"likes tea"})
	if err != nil || len(got) != 0 {
		t.Fatalf("Suggestions() = %v, %v; want empty", got, err)
	}
	if gen.calls != 0 {
		t.Fatalf("collaborator called %d times", gen.calls)
	}
}

func TestSuggestionsHostVariantIncludesMemories(t *testing.T) {
	gen := &scriptedGenerator{raw: `{"chat_suggestions":["Great!"," ","Fine thanks","Tea?","Extra"]}`}
	got, err := New(gen, Options{SuggestionCount: 3}).Suggestions(context.Background(), protocol.RoleHost, "en", history, []string{"Likes green tea"})
	if err != nil {
		t.Fatalf("Suggestions() error = %v", err)
	}
	if strings.Join(got, "|") != "Great!|Fine thanks|Tea?" {
		t.Fatalf("Suggestions() = %q", got)
	}
	if !strings.Contains(gen.system, "Likes green tea") {
		t.Fatalf("host prompt missing memories: %s", gen.system)
	}
	if !strings.Contains(gen.user, "host: Hello, how are you?") || !strings.Contains(gen.user, "guest: Muy bien, ¿y tú?") {
		t.Fatalf("history not rendered with originals: %s", gen.user)
	}
	if gen.schema != "chat_suggestions" {
		t.Fatalf("schema = %s", gen.schema)
	}
}

func TestSuggestionsGuestVariantOmitsMemories(t *testing.T) {
	gen := &scriptedGenerator{raw: `{"chat_suggestions":["¡Genial!"]}`}
	_, err := New(gen, Options{}).Suggestions(context.Background(), protocol.RoleGuest, "es", history, []string{"Likes green tea"})
	if err != nil {
		t.Fatalf("Suggestions() error = %v", err)
	}
	if strings.Contains(gen.system, "green tea") {
		t.Fatalf("guest prompt leaked host memories: %s", gen.system)
	}
	if !strings.Contains(gen.system, "written in es") {
		t.Fatalf("guest prompt missing language: %s", gen.system)
	}
}

func TestSuggestionsSchemaViolationSurfaces(t *testing.T) {
	gen := &scriptedGenerator{raw: `{"suggestions":["x"]}`}
	_, err := New(gen, Options{}).Suggestions(context.Background(), protocol.RoleHost, "en", history, nil)
	if !errors.Is(err, llm.ErrSchemaViolation) {
		t.Fatalf("error = %v, want ErrSchemaViolation", err)
	}
}

func TestAutoReplyRendersHistoryInHostLanguage(t *testing.T) {
	gen := &scriptedGenerator{raw: `{"reply":"  I'm great, thanks! ","end_chat":false}`}
	r, err := New(gen, Options{}).AutoReply(context.Background(), "en", []string{"Works as a chef"}, history)
	if err != nil {
		t.Fatalf("AutoReply() error = %v", err)
	}
	if r.Text != "I'm great, thanks!" || r.EndChat {
		t.Fatalf("reply = %+v", r)
	}
	if !strings.Contains(gen.user, "host: Hello, how are you?") || !strings.Contains(gen.user, "guest: Very well, and you?") {
		t.Fatalf("auto history = %s", gen.user)
	}
	if !strings.Contains(gen.system, "Works as a chef") {
		t.Fatalf("memories missing from prompt: %s", gen.system)
	}
}

func TestAutoReplyEndChat(t *testing.T) {
	gen := &scriptedGenerator{raw: `{"reply":"Bye!","end_chat":true}`}
	r, err := New(gen, Options{}).AutoReply(context.Background(), "en", nil, history)
	if err != nil || !r.EndChat {
		t.Fatalf("AutoReply() = %+v, %v; want end_chat", r, err)
	}
}

func TestRenderAutoHistory(t *testing.T) {
	got := RenderAutoHistory(history)
	want := "host: Hello, how are you?\nguest: Very well, and you?\n"
	if got != want {
		t.Fatalf("RenderAutoHistory() = %q, want %q", got, want)
	}
}

func TestSuggestionsLogsTrimmedOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gen := &scriptedGenerator{raw: `{"chat_suggestions":["Yes","","No","Maybe","Later"]}`}
	got, err := New(gen, Options{SuggestionCount: 2, Logger: logger}).Suggestions(context.Background(), protocol.RoleGuest, "es", history, nil)
	if err != nil || len(got) != 2 {
		t.Fatalf("Suggestions() = %v, %v", got, err)
	}
	if !strings.Contains(buf.String(), "suggestions trimmed") || !strings.Contains(buf.String(), "kept=2") {
		t.Fatalf("log output = %q", buf.String())
	}
}
