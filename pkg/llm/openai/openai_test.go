package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/llm"
	"github.com/entrhq/pagepilot/pkg/types"
)

func sseServer(t *testing.T, captured *map[string]any, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, captured))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "%s\n\n", e)
		}
	}))
}

func delta(role, content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"role": role, "content": content}}},
	})
	return "data: " + string(b)
}

func TestNewProviderRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider("")
	require.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "env-key")
	p, err := NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.GetModel())
}

func TestNewProviderBaseURL(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "http://env.local/v1/")
	p, err := NewProvider("k")
	require.NoError(t, err)
	assert.Equal(t, "http://env.local/v1", p.baseURL)
	assert.Equal(t, "http://env.local/v1", p.GetModelInfo().Metadata["base_url"])

	p, err = NewProvider("k", WithBaseURL("http://explicit/v1"), WithModel("m"), WithVision())
	require.NoError(t, err)
	assert.Equal(t, "http://explicit/v1", p.baseURL)
	assert.Equal(t, "m", p.GetModelInfo().Name)
	assert.True(t, p.GetModelInfo().SupportsVision)
}

func TestCompleteSkipsThinking(t *testing.T) {
	srv := sseServer(t, nil,
		": keep-alive",
		delta("assistant", "<think"),
		delta("", "ing>look at the page</thinking>"),
		delta("", `{"action":[{"click":`),
		delta("", `{"index":0}}]}`),
		"data: [DONE]",
	)
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	msg, err := p.Complete(context.Background(), []*types.Message{types.NewUserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, `{"action":[{"click":{"index":0}}]}`, msg.Content)
}

func TestStreamMarksThinkingChunks(t *testing.T) {
	srv := sseServer(t, nil,
		delta("assistant", "<thinking>plan</thinking>answer"),
		"data: [DONE]",
	)
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	stream, err := p.StreamCompletion(context.Background(), nil)
	require.NoError(t, err)

	var got []llm.StreamChunk
	for c := range stream {
		got = append(got, *c)
	}
	require.Len(t, got, 3)
	assert.True(t, got[0].Thinking)
	assert.Equal(t, "plan", got[0].Content)
	assert.Equal(t, "answer", got[1].Content)
	assert.True(t, got[2].Finished)
}

func TestStatusErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestStreamErrorEvent(t *testing.T) {
	srv := sseServer(t, nil, `data: {"error":{"message":"overloaded"}}`)
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestRequestBodyCarriesImagePartsAndOptions(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, &body, delta("assistant", "{}"), "data: [DONE]")
	defer srv.Close()

	p, err := NewProvider("test-key", WithBaseURL(srv.URL), WithJSONMode(), WithTemperature(0.2))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []*types.Message{
		types.NewSystemMessage("rules"),
		types.NewImageMessage("page state", "iVBORw0KGgo="),
	})
	require.NoError(t, err)

	assert.Equal(t, true, body["stream"])
	assert.Equal(t, 0.2, body["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "rules", system["content"])

	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	url := image["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}
