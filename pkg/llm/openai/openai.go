// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	    openai.WithJSONMode(),
//	)
//	if err != nil {
//	    return err
//	}
//
//	stream, err := provider.StreamCompletion(ctx, messages)
//	if err != nil {
//	    return err
//	}
//	for chunk := range stream {
//	    if !chunk.Thinking {
//	        fmt.Print(chunk.Content)
//	    }
//	}
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"

	"github.com/entrhq/pagepilot/pkg/llm"
	"github.com/entrhq/pagepilot/pkg/llm/parser"
	"github.com/entrhq/pagepilot/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when WithModel is not given.
	DefaultModel = "gpt-4o"
)

// Provider implements llm.Provider for OpenAI-compatible chat completion APIs.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	jsonMode    bool
	temperature *float64
	modelInfo   *types.ModelInfo
}

var _ llm.Provider = (*Provider)(nil)

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs such as
// Azure OpenAI or a local server.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithJSONMode asks the server for a JSON object response.
func WithJSONMode() ProviderOption {
	return func(p *Provider) {
		p.jsonMode = true
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = &t
	}
}

// WithVision marks the model as accepting image parts.
func WithVision() ProviderOption {
	return func(p *Provider) {
		p.modelInfo.SupportsVision = true
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, OPENAI_API_KEY is used. If no base URL is given,
// OPENAI_BASE_URL is consulted before falling back to DefaultBaseURL.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		modelInfo:  &types.ModelInfo{Metadata: make(map[string]interface{})},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	p.modelInfo.Provider = "openai"
	p.modelInfo.Name = p.model
	p.modelInfo.SupportsStreaming = true
	p.modelInfo.MaxTokens = 8192
	if p.baseURL != DefaultBaseURL {
		p.modelInfo.Metadata["base_url"] = p.baseURL
	}
	return p, nil
}

// StreamCompletion sends messages and streams back response chunks.
//
// Server-sent events are read directly rather than through the SDK client,
// which tolerates compatible servers that emit SSE comments or extra fields.
func (p *Provider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	resp, err := p.sendStreamRequest(ctx, messages)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

func (p *Provider) requestBody(messages []*types.Message) map[string]interface{} {
	body := map[string]interface{}{
		"model":    p.model,
		"messages": convertToOpenAIMessages(messages),
		"stream":   true,
	}
	if p.jsonMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if p.temperature != nil {
		body["temperature"] = *p.temperature
	}
	return body
}

func (p *Provider) sendStreamRequest(ctx context.Context, messages []*types.Message) (*http.Response, error) {
	bodyBytes, err := json.Marshal(p.requestBody(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

type streamState struct {
	role     string
	thinking *parser.ThinkingParser
}

func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	st := &streamState{thinking: parser.NewThinkingParser()}

	for scanner.Scan() {
		line := scanner.Text()
		if !isDataLine(line) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			if p.flush(ctx, st, chunks) {
				send(ctx, &llm.StreamChunk{Role: st.role, Finished: true}, chunks)
			}
			return
		}
		if !p.processSSEChunk(ctx, data, st, chunks) {
			return
		}
	}

	if !p.flush(ctx, st, chunks) {
		return
	}
	if err := scanner.Err(); err != nil {
		send(ctx, &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}, chunks)
	}
}

// isDataLine skips blank lines, SSE comments and non-data fields.
func isDataLine(line string) bool {
	return strings.HasPrefix(line, "data:")
}

func (p *Provider) flush(ctx context.Context, st *streamState, chunks chan<- *llm.StreamChunk) bool {
	thinking, message := st.thinking.Flush()
	return p.sendParsed(ctx, st.role, thinking, message, chunks)
}

func (p *Provider) sendParsed(ctx context.Context, role string, thinking, message *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	for _, c := range []*llm.StreamChunk{thinking, message} {
		if c == nil {
			continue
		}
		c.Role = role
		if !send(ctx, c, chunks) {
			return false
		}
	}
	return true
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		select {
		case chunks <- &llm.StreamChunk{Error: ctx.Err()}:
		default:
		}
		return false
	}
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) processSSEChunk(ctx context.Context, data string, st *streamState, chunks chan<- *llm.StreamChunk) bool {
	var chunk sseChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return true // malformed chunks are skipped
	}
	if chunk.Error != nil {
		send(ctx, &llm.StreamChunk{Error: fmt.Errorf("API stream error: %s", chunk.Error.Message)}, chunks)
		return false
	}
	if len(chunk.Choices) == 0 {
		return true
	}

	choice := chunk.Choices[0]
	if st.role == "" && choice.Delta.Role != "" {
		st.role = choice.Delta.Role
	}
	if choice.Delta.Content != "" {
		thinking, message := st.thinking.Parse(choice.Delta.Content)
		if !p.sendParsed(ctx, st.role, thinking, message, chunks) {
			return false
		}
	}
	return true
}

// Complete sends messages and returns the accumulated response without
// thinking content.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	stream, err := p.StreamCompletion(ctx, messages)
	if err != nil {
		return nil, err
	}
	return llm.Collect(stream)
}

// GetModelInfo returns information about the OpenAI model being used.
func (p *Provider) GetModelInfo() *types.ModelInfo {
	return p.modelInfo
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// convertToOpenAIMessages maps messages onto the SDK's param unions. Image
// parts become inline data URLs.
func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Text()))
		default:
			if msg.HasImage() {
				out = append(out, openai.UserMessage(contentParts(msg)))
			} else {
				out = append(out, openai.UserMessage(msg.Text()))
			}
		}
	}
	return out
}

func contentParts(msg *types.Message) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Type {
		case types.PartImage:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:image/png;base64," + part.ImageBase64,
			}))
		default:
			parts = append(parts, openai.TextContentPart(part.Text))
		}
	}
	return parts
}
