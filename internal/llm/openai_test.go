package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigency/internal/logging"
	"aigency/internal/metrics"
)

func sseServer(t *testing.T, chunks []string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if capture != nil {
			_ = json.NewDecoder(r.Body).Decode(capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(baseURL string) *OpenAIProvider {
	return NewOpenAIProvider(Config{APIKey: "k", BaseURL: baseURL, Model: "test-model"}, metrics.NewUnregistered("test"), logging.Discard())
}

func TestStreamText(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}, nil)

	var deltas []string
	res, err := newTestProvider(srv.URL).Stream(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, "stop", res.FinishReason)
}

func TestStreamAssemblesToolCalls(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"saveBrief","arguments":"{\"goal\":"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"LEADS\"}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"webSearch","arguments":"{}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}, &body)

	res, err := newTestProvider(srv.URL).Stream(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c0", Name: "webSearch", Arguments: "{}"}}},
			{Role: RoleTool, ToolCallID: "c0", Content: `{"success":true}`},
		},
		Tools: []ToolDefinition{{Name: "saveBrief", Description: "save", Parameters: map[string]any{"type": "object"}}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "saveBrief", Arguments: `{"goal":"LEADS"}`}, res.ToolCalls[0])
	assert.Equal(t, "webSearch", res.ToolCalls[1].Name)

	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, true, body["stream"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 3)
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestProvider(srv.URL).Stream(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, nil)
	assert.Error(t, err)
}
