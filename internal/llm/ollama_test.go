package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: reply}})
	}))
}

func TestOllamaClientGrade(t *testing.T) {
	srv := chatServer(t, "0.8", http.StatusOK)
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", 256, 0.1)
	score, err := c.Grade(context.Background(), "what is revenue", "Q3 revenue rose 10%")
	if err != nil {
		t.Fatal(err)
	}
	if score != 0.8 {
		t.Errorf("score = %v", score)
	}
}

func TestOllamaClientGradeMalformed(t *testing.T) {
	srv := chatServer(t, "very relevant indeed", http.StatusOK)
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", 256, 0.1)
	_, err := c.Grade(context.Background(), "q", "chunk")
	if err == nil {
		t.Fatal("expected malformed-output error")
	}
	if IsTransient(err) {
		t.Error("malformed output must not be transient")
	}
}

func TestOllamaClientTransient(t *testing.T) {
	srv := chatServer(t, "", http.StatusInternalServerError)
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", 256, 0.1)
	_, err := c.Grade(context.Background(), "q", "chunk")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("5xx should be transient, got %v", err)
	}

	// Unreachable endpoint is also transient.
	dead := NewOllamaClient("http://127.0.0.1:1", "m", 0, 0)
	_, err = dead.Grade(context.Background(), "q", "chunk")
	if !IsTransient(err) {
		t.Errorf("network error should be transient, got %v", err)
	}
}

func TestOllamaClientRewriteGenerate(t *testing.T) {
	srv := chatServer(t, "  what was the third quarter revenue change  ", http.StatusOK)
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model", 256, 0.1)
	got, err := c.Rewrite(context.Background(), "q3 rev?", "q3 rev?", []string{"some chunk"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.HasPrefix(got, " ") || got == "" {
		t.Errorf("rewrite not trimmed: %q", got)
	}

	answer, err := c.Generate(context.Background(), "q", []string{"[Source: a.txt, chunk #0]\ntext"})
	if err != nil {
		t.Fatal(err)
	}
	if answer == "" {
		t.Error("empty answer")
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"0.75", 0.75, true},
		{" 1 ", 1, true},
		{"0.3 (the chunk mentions revenue)", 0.3, true},
		{"0.9.", 0.9, true},
		{"relevant", 0, false},
		{"", 0, false},
		{"1.7", 0, false},
		{"-0.2", 0, false},
	}
	for _, tc := range cases {
		got, err := parseScore(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("parseScore(%q) = %v, %v", tc.raw, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("parseScore(%q): expected error", tc.raw)
		}
	}
}

func TestIsTransient(t *testing.T) {
	base := errors.New("boom")
	if IsTransient(base) {
		t.Error("plain error reported transient")
	}
	if !IsTransient(&TransientError{Err: base}) {
		t.Error("TransientError not detected")
	}
}
