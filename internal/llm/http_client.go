package llm

import (
	"bufio"
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

// HTTPClient talks to any OpenAI-compatible chat-completions endpoint. This
// mirrors the reference copilot's LLMClient: same wire shapes, same
// bearer-auth header, same missing-API-key error — extended with SSE
// streaming, which the conversation graph's output segmenter needs.
// Requests carry only each message's role, text, tool calls and tool-call
// ID plus the tool list: Request.ResponseSchema and Message.Blocks are not
// sent, so the utility node's call goes out as a plain completion and
// passthrough/transcription content blocks do not reach the provider.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient builds a client against baseURL (trailing slash trimmed)
// using apiKey and model for every request.
func NewHTTPClient(baseURL, apiKey, model string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger.With("component", "llm"),
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolDef struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireToolDef `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []ToolDef) []wireToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireToolDef{
			Type: "function",
			Function: wireFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func fromWireToolCalls(calls []wireToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{ID: c.ID, Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Complete performs a single non-streaming chat completion.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("LLM API key not configured")
	}

	body := wireRequest{
		Model:    c.model,
		Messages: toWireMessages(req.Messages),
		Tools:    toWireTools(req.Tools),
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("API error", "status", resp.StatusCode, "body", truncate(string(respBody), 500))
		return Response{}, fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var wr wireResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		return Response{}, fmt.Errorf("parsing response: %w", err)
	}
	if wr.Error != nil {
		return Response{}, fmt.Errorf("API error: %s", wr.Error.Message)
	}
	if len(wr.Choices) == 0 {
		return Response{}, fmt.Errorf("no response from model")
	}

	choice := wr.Choices[0]
	c.logger.Info("chat completion done",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", wr.Usage.PromptTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	return Response{
		Content:   strings.TrimSpace(choice.Message.Content),
		ToolCalls: fromWireToolCalls(choice.Message.ToolCalls),
		Usage: Usage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
			TotalTokens:  wr.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStream performs a streaming chat completion over SSE, invoking
// onChunk for each content delta, matching the "data: {...}\n\n" ...
// "data: [DONE]" framing common to OpenAI-compatible streaming endpoints.
func (c *HTTPClient) CompleteStream(ctx context.Context, req Request, onChunk ChunkFunc) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("LLM API key not configured")
	}

	body := wireRequest{
		Model:    c.model,
		Messages: toWireMessages(req.Messages),
		Tools:    toWireTools(req.Tools),
		Stream:   true,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var contentBuilder strings.Builder
	var toolCalls []ToolCall
	usage := Usage{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(delta.Content)
			}
		}
		if len(delta.ToolCalls) > 0 {
			toolCalls = append(toolCalls, fromWireToolCalls(delta.ToolCalls)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("reading stream: %w", err)
	}

	return Response{
		Content:   strings.TrimSpace(contentBuilder.String()),
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}
