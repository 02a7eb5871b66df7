package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OllamaClient is a client for an Ollama-compatible chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client. Pass a zero timeout to
// use the 5 minute default (large models with tools need time).
func NewOllamaClient(baseURL string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// chatRequest is the wire format for the Ollama chat API.
type chatRequest struct {
	Model    string           `json:"model"`
	Messages []wireMessage    `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

// wireMessage strips engine-only fields (Streaming) from a Message
// before it crosses the wire.
type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// chatChunk is one newline-delimited JSON object in a streaming response.
type chatChunk struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   wireMessage `json:"message"`
	Done      bool        `json:"done"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// ChatStream sends a streaming chat request. Tokens and native tool
// calls are delivered to callback as they arrive; the accumulated
// response is returned when the stream completes.
func (c *OllamaClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	req := chatRequest{
		Model:    model,
		Messages: toWire(messages),
		Stream:   true,
		Tools:    tools,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	// Streaming: read newline-delimited JSON.
	final := &ChatResponse{Model: model}
	var contentBuilder strings.Builder
	decoder := json.NewDecoder(resp.Body)

	for {
		var chunk chatChunk
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			// Surface context cancellation as-is so the engine can
			// distinguish a cancel from a transport failure.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			contentBuilder.WriteString(chunk.Message.Content)
			if callback != nil {
				callback(StreamEvent{Kind: KindToken, Token: chunk.Message.Content})
			}
		}

		// Native tool calls arrive in the final message.
		for i := range chunk.Message.ToolCalls {
			tc := chunk.Message.ToolCalls[i]
			final.Message.ToolCalls = append(final.Message.ToolCalls, tc)
			if callback != nil {
				callback(StreamEvent{Kind: KindToolCallStart, ToolCall: &tc})
			}
		}

		if chunk.Done {
			final.Model = chunk.Model
			if ts, err := time.Parse(time.RFC3339Nano, chunk.CreatedAt); err == nil {
				final.CreatedAt = ts
			}
			final.Done = true
			final.InputTokens = chunk.PromptEvalCount
			final.OutputTokens = chunk.EvalCount
			final.TotalDuration = time.Duration(chunk.TotalDuration)
			final.EvalDuration = time.Duration(chunk.EvalDuration)
			break
		}
	}

	final.Message.Role = "assistant"
	final.Message.Content = contentBuilder.String()

	c.logger.Log(ctx, slog.Level(-8), "ollama stream complete",
		"model", final.Model,
		"content_len", len(final.Message.Content),
		"tool_calls", len(final.Message.ToolCalls),
	)

	if callback != nil {
		callback(StreamEvent{Kind: KindDone, Response: final})
	}
	return final, nil
}

// Ping checks if the endpoint is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}

func toWire(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if m.Streaming {
			// The in-flight placeholder never crosses the wire.
			continue
		}
		out = append(out, wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}
