package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/internal/app"
	"github.com/aretw0/coachflow/internal/config"
	"github.com/aretw0/coachflow/pkg/domain"
)

type rpcResponse struct {
	Result struct {
		IsError           bool            `json:"isError"`
		StructuredContent json.RawMessage `json:"structuredContent"`
		Content           []struct {
			Text string `json:"text"`
		} `json:"content"`
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type harness struct {
	t      *testing.T
	server *Server
	nextID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, nil, app.WithOffline())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	h := &harness{t: t, server: NewServer(a.Sessions, WithAnalyzer(a.Analyzer), WithGraphs(a.Registry))}
	h.call("initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
	})
	return h
}

func (h *harness) call(method string, params any) rpcResponse {
	h.t.Helper()
	h.nextID++
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": h.nextID, "method": method, "params": params})
	require.NoError(h.t, err)

	msg := h.server.MCPServer().HandleMessage(context.Background(), raw)
	out, err := json.Marshal(msg)
	require.NoError(h.t, err)

	var resp rpcResponse
	require.NoError(h.t, json.Unmarshal(out, &resp), string(out))
	return resp
}

func (h *harness) tool(name string, args map[string]any) rpcResponse {
	h.t.Helper()
	return h.call("tools/call", map[string]any{"name": name, "arguments": args})
}

func TestListTools(t *testing.T) {
	h := newHarness(t)
	resp := h.call("tools/list", map[string]any{})
	require.Nil(t, resp.Error)

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"initiate_session", "send_message", "get_session", "complete_session", "analyze"} {
		assert.Contains(t, names, want)
	}
}

func TestConversationTools(t *testing.T) {
	h := newHarness(t)

	resp := h.tool("initiate_session", map[string]any{"topic": "values"})
	require.False(t, resp.Result.IsError, fmt.Sprint(resp.Result.Content))
	var turn TurnResponse
	require.NoError(t, json.Unmarshal(resp.Result.StructuredContent, &turn))
	require.NotEmpty(t, turn.SessionID)

	resp = h.tool("complete_session", map[string]any{"session_id": turn.SessionID})
	assert.True(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, "not_ready")

	for _, answer := range []string{"Honesty, Curiosity, Courage", "Family, Craft, Freedom", "Health, Learning, Humor", "ready"} {
		resp = h.tool("send_message", map[string]any{"session_id": turn.SessionID, "text": answer})
		require.False(t, resp.Result.IsError, fmt.Sprint(resp.Result.Content))
	}
	require.NoError(t, json.Unmarshal(resp.Result.StructuredContent, &turn))
	assert.True(t, turn.Done)

	resp = h.tool("complete_session", map[string]any{"session_id": turn.SessionID})
	require.False(t, resp.Result.IsError, fmt.Sprint(resp.Result.Content))
	assert.Contains(t, resp.Result.Content[0].Text, `"values"`)

	resp = h.tool("get_session", map[string]any{"session_id": turn.SessionID})
	require.False(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, `"completed"`)
}

func TestSessionToolErrors(t *testing.T) {
	h := newHarness(t)

	resp := h.tool("get_session", map[string]any{"session_id": "missing"})
	assert.True(t, resp.Result.IsError)
	assert.Contains(t, resp.Result.Content[0].Text, "not_found")

	resp = h.tool("pause_session", map[string]any{})
	assert.True(t, resp.Result.IsError)
}

func TestAnalyzeTool(t *testing.T) {
	h := newHarness(t)

	resp := h.tool("analyze", map[string]any{
		"topic": "swot",
		"input": "We run a small bakery with loyal customers and rising flour costs.",
	})
	require.False(t, resp.Result.IsError, fmt.Sprint(resp.Result.Content))
	assert.Contains(t, string(resp.Result.StructuredContent), `"workflow_id"`)
}

func TestGraphResource(t *testing.T) {
	h := newHarness(t)

	resp := h.call("resources/read", map[string]any{"uri": GraphURIPrefix + "conversational"})
	require.Nil(t, resp.Error)
	require.Len(t, resp.Result.Contents, 1)
	assert.Contains(t, resp.Result.Contents[0].Text, "graph TD")

	resp = h.call("resources/read", map[string]any{"uri": GraphURIPrefix + "unknown"})
	assert.NotNil(t, resp.Error)
}

func TestToolError_HidesWorkflowFailure(t *testing.T) {
	h := newHarness(t)

	err := h.server.toolError("send_message", &domain.WorkflowFailedError{
		WorkflowID: "wf-1", Node: "question_generation", Err: errors.New("no valid transition from question_generation"),
	})
	assert.EqualError(t, err, "send_message: workflow_failed")

	err = h.server.toolError("get_session", &domain.NotFoundError{Kind: "session", ID: "s-1"})
	assert.ErrorContains(t, err, "not_found")
}
