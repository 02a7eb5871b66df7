package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// streamHandler writes a canned sequence of newline-delimited chunks.
func streamHandler(t *testing.T, chunks []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		for _, m := range req.Messages {
			if m.Role == "" {
				t.Error("message with empty role crossed the wire")
			}
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range chunks {
			w.Write([]byte(c + "\n"))
		}
	}
}

func TestChatStream_Tokens(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"model":"test","message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"model":"test","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"test","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":12,"eval_count":3}`,
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 0, nil)

	var tokens []string
	var done bool
	resp, err := c.ChatStream(context.Background(), "test",
		[]Message{{Role: "user", Content: "hi"}}, nil,
		func(ev StreamEvent) {
			switch ev.Kind {
			case KindToken:
				tokens = append(tokens, ev.Token)
			case KindDone:
				done = true
			}
		})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if resp.Message.Content != "Hello" {
		t.Errorf("content = %q, want %q", resp.Message.Content, "Hello")
	}
	if len(tokens) != 2 {
		t.Errorf("got %d token events, want 2", len(tokens))
	}
	if !done {
		t.Error("KindDone event never fired")
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("usage = %d/%d, want 12/3", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChatStream_NativeToolCallSignal(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`{"model":"test","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"current_time","arguments":{}}}]},"done":true}`,
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 0, nil)

	var signalled *ToolCall
	resp, err := c.ChatStream(context.Background(), "test",
		[]Message{{Role: "user", Content: "what time is it"}}, nil,
		func(ev StreamEvent) {
			if ev.Kind == KindToolCallStart {
				signalled = ev.ToolCall
			}
		})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if signalled == nil {
		t.Fatal("no KindToolCallStart event")
	}
	if signalled.Function.Name != "current_time" {
		t.Errorf("signalled tool = %q, want %q", signalled.Function.Name, "current_time")
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Errorf("response tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
}

func TestChatStream_ExcludesStreamingPlaceholder(t *testing.T) {
	var gotMessages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotMessages = len(req.Messages)
		w.Write([]byte(`{"model":"test","message":{"role":"assistant","content":"ok"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 0, nil)
	history := []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "partial", Streaming: true},
	}
	if _, err := c.ChatStream(context.Background(), "test", history, nil, nil); err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if gotMessages != 1 {
		t.Errorf("wire messages = %d, want 1 (placeholder excluded)", gotMessages)
	}
}

func TestChatStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 0, nil)
	_, err := c.ChatStream(context.Background(), "missing", []Message{{Role: "user", Content: "hi"}}, nil, nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 0, nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
