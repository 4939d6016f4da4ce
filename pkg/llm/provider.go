// Package llm defines the decision-source abstraction the agent talks to.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reply, err := provider.Complete(ctx, []*types.Message{
//	    types.NewSystemMessage("You drive a browser."),
//	    types.NewUserMessage("Open example.com"),
//	})
package llm

import (
	"context"

	"github.com/entrhq/pagepilot/pkg/types"
)

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication only. Prompt construction, response
// parsing and retries belong to the agent.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response chunks.
	//
	// The channel is closed when streaming completes or an error occurs.
	// Stream-time errors are sent as chunks with Error set; the returned error
	// is only for failures to start the request.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the full response.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModelInfo returns information about the LLM model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Role    string
	Content string
	// Thinking marks content that came from a <thinking> block.
	Thinking bool
	Finished bool
	Error    error
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// Collect drains a stream into a single assistant message. Thinking content
// is dropped.
func Collect(stream <-chan *StreamChunk) (*types.Message, error) {
	var content []byte
	role := string(types.RoleAssistant)
	for chunk := range stream {
		if chunk.IsError() {
			// keep draining so the producer can exit
			for range stream {
			}
			return nil, chunk.Error
		}
		if chunk.Role != "" {
			role = chunk.Role
		}
		if !chunk.Thinking {
			content = append(content, chunk.Content...)
		}
	}
	return &types.Message{Role: types.MessageRole(role), Content: string(content)}, nil
}
