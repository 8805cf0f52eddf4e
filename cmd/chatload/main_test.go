package main

import (
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/chattoz/internal/protocol"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://chat.example.com/api/", "abc-123", protocol.RoleGuest, "user 7")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "wss://chat.example.com/api/v1/ws/abc-123/guest/user%207"
	if got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}
	if _, err := wsURLForSession("ftp://x", "s", protocol.RoleHost, "u"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestSplitTexts(t *testing.T) {
	if got := splitTexts(""); len(got) != len(defaultUtterances) {
		t.Fatalf("splitTexts(\"\") len = %d, want defaults", len(got))
	}
	got := splitTexts(" hola | |adios ")
	if len(got) != 2 || got[0] != "hola" || got[1] != "adios" {
		t.Fatalf("splitTexts() = %q", got)
	}
}

func TestSummarize(t *testing.T) {
	lat := []time.Duration{40 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	got := summarize(lat)
	for _, want := range []string{"turns=4", "avg_ms=25.0", "max_ms=40.0"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summarize() = %q, missing %q", got, want)
		}
	}
	if summarize(nil) != "chatload: no turns completed" {
		t.Fatalf("summarize(nil) = %q", summarize(nil))
	}
}
