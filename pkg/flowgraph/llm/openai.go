package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/randalmurphal/toolflow/internal/httpkit"
	"github.com/randalmurphal/toolflow/pkg/flowgraph/config"
	fgerrors "github.com/randalmurphal/toolflow/pkg/flowgraph/errors"
)

// OpenAI defaults.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-3.5-turbo"
	APIKeyEnv      = "OPENAI_API_KEY"
	BaseURLEnv     = "OPENAI_BASE_URL"
)

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIConfigFromEnv reads the API key from OPENAI_API_KEY and an optional
// OPENAI_BASE_URL. A missing key is a *config.ConfigurationError.
func OpenAIConfigFromEnv() (OpenAIConfig, error) {
	env, err := config.RequireEnv(APIKeyEnv)
	if err != nil {
		return OpenAIConfig{}, err
	}
	baseURL, err := config.Endpoint(BaseURLEnv, config.EnvOr(BaseURLEnv, DefaultBaseURL))
	if err != nil {
		return OpenAIConfig{}, err
	}
	return OpenAIConfig{BaseURL: baseURL, APIKey: env[APIKeyEnv]}, nil
}

// OpenAI implements Client against the chat completions API.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewOpenAI creates a client. Empty fields take the package defaults.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		hc = httpkit.NewClient(httpkit.WithTimeout(timeout))
	}
	return &OpenAI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    hc,
		logger:  cfg.Logger,
	}
}

// Model returns the default model.
func (c *OpenAI) Model() string {
	return c.model
}

// Complete implements Client.
func (c *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, "complete", c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, NewError("complete", fmt.Errorf("decode response: %w", err), false)
	}
	if len(out.Choices) == 0 {
		return nil, NewError("complete", errors.New("response has no choices"), false)
	}

	choice := out.Choices[0]
	result := &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        out.Model,
		FinishReason: choice.FinishReason,
		Usage:        out.Usage.tokenUsage(),
		Duration:     time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	c.logger.Debug("completion finished",
		"model", result.Model,
		"finish_reason", result.FinishReason,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Stream implements Client. Content arrives as server-sent events and ends
// with "data: [DONE]".
func (c *OpenAI) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := c.post(ctx, "stream", c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer httpkit.DrainAndClose(resp.Body, 64*1024)

		send := func(chunk StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *TokenUsage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				send(StreamChunk{Done: true, Usage: usage})
				return
			}

			var event chatResponse
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				send(StreamChunk{Error: NewError("stream", fmt.Errorf("decode event: %w", err), false)})
				return
			}
			if event.Usage != nil {
				u := event.Usage.tokenUsage()
				usage = &u
			}
			for _, choice := range event.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(StreamChunk{Content: choice.Delta.Content}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			send(StreamChunk{Error: NewError("stream", fmt.Errorf("read stream: %w", err), false)})
			return
		}
		send(StreamChunk{Error: NewError("stream", errors.New("stream ended without [DONE]"), false)})
	}()
	return ch, nil
}

func (c *OpenAI) post(ctx context.Context, op string, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, NewError(op, fmt.Errorf("marshal request: %w", err), false)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, NewError(op, fmt.Errorf("create request: %w", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError(op, ctx.Err(), false)
		}
		return nil, NewError(op, err, true)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(httpkit.ReadErrorBody(resp.Body, 4096))
		httpErr := &fgerrors.HTTPError{StatusCode: resp.StatusCode, Message: apiErrorMessage(msg), Endpoint: url}
		return nil, NewError(op, httpErr, fgerrors.CategorizeStatus(resp.StatusCode) == fgerrors.CategoryTransient)
	}
	return resp, nil
}

func (c *OpenAI) buildRequest(req CompletionRequest, stream bool) chatRequest {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	out := chatRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, chatMessage{Role: string(RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunctionCall{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return out
}

// apiErrorMessage extracts error.message from an API error body.
func apiErrorMessage(body string) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return body
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Tools         []chatTool     `json:"tools,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *chatUsage) tokenUsage() TokenUsage {
	if u == nil {
		return TokenUsage{}
	}
	return TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

var _ Client = (*OpenAI)(nil)
