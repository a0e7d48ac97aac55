package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/tradegate/pkg/toolexecutor"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	executor := toolexecutor.New(toolexecutor.Config{Logger: logger})

	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "echo",
		Description: "Echo the message",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "message", Type: "string", Description: "Message", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"message": params["message"]}, nil
		},
	}))
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "broken",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("db down")
		},
	}))

	s, err := NewServer(Config{Tools: executor, Logger: logger})
	require.NoError(t, err)
	return s
}

func handle(t *testing.T, s *Server, msg string) *Response {
	t.Helper()
	return s.HandleMessage(context.Background(), []byte(msg), "test")
}

func callResult(t *testing.T, resp *Response) CallResult {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(CallResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)
	return result
}

func TestNewServer_RequiresDispatcher(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestHandleMessage_Initialize(t *testing.T) {
	s := newTestServer(t)

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`)
	require.NotNil(t, resp)
	assert.Equal(t, json.RawMessage("1"), resp.ID)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "2025-03-26", result["protocolVersion"])
	assert.Equal(t, map[string]interface{}{"name": "bcs-mcp", "version": "26.02.1"}, result["serverInfo"])

	resp = handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"initialize"}`)
	assert.Equal(t, ProtocolVersion, resp.Result.(map[string]interface{})["protocolVersion"])
}

func TestHandleMessage_NotificationsHaveNoResponse(t *testing.T) {
	s := newTestServer(t)
	assert.Nil(t, handle(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, handle(t, s, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":3}}`))
}

func TestHandleMessage_ProtocolErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		msg  string
		code int
	}{
		{"parse error", `{"jsonrpc":`, ParseError},
		{"unknown method", `{"jsonrpc":"2.0","id":"a","method":"resources/list"}`, MethodNotFound},
		{"missing method", `{"jsonrpc":"2.0","id":"a"}`, InvalidRequest},
		{"call without params", `{"jsonrpc":"2.0","id":"a","method":"tools/call"}`, InvalidParams},
		{"call without name", `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"arguments":{}}}`, InvalidParams},
		{"call with bad params", `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":[1]}`, InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, s, tt.msg)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Result)
		})
	}
}

func TestHandleMessage_Ping(t *testing.T) {
	s := newTestServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	assert.Equal(t, map[string]interface{}{}, resp.Result)
}

func TestHandleMessage_ListTools(t *testing.T) {
	s := newTestServer(t)
	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	tools := resp.Result.(map[string]interface{})["tools"].([]toolexecutor.ToolInfo)
	require.Len(t, tools, 2)
	assert.Equal(t, "broken", tools[0].Name)
	assert.Equal(t, "echo", tools[1].Name)
	assert.Equal(t, []string{"message"}, tools[1].InputSchema["required"])
}

func TestHandleMessage_CallTool(t *testing.T) {
	s := newTestServer(t)

	result := callResult(t, handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`))
	assert.False(t, result.IsError)
	assert.Equal(t, "{\n  \"message\": \"hi\"\n}", result.Content[0].Text)

	result = callResult(t, handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`))
	assert.True(t, result.IsError)
	assert.Equal(t, "Unknown tool: nope", result.Content[0].Text)

	result = callResult(t, handle(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{}}}`))
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(result.Content[0].Text, "Invalid input: "))

	result = callResult(t, handle(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"broken"}}`))
	assert.True(t, result.IsError)
	assert.Equal(t, "Tool error: db down", result.Content[0].Text)
}

func TestServe_Stdio(t *testing.T) {
	s := newTestServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"x"}}}`,
		`not json`,
	}, "\n") + "\n"

	var out strings.Builder
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(input), &out))

	byID := map[string]Response{}
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		byID[string(resp.ID)] = resp
	}
	require.Len(t, byID, 3)

	assert.Nil(t, byID["1"].Error)
	assert.Nil(t, byID["2"].Error)
	assert.Contains(t, byID["2"].Result.(map[string]interface{})["content"].([]interface{})[0].(map[string]interface{})["text"], `"message": "x"`)
	require.NotNil(t, byID["null"].Error)
	assert.Equal(t, ParseError, byID["null"].Error.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, r, &strings.Builder{}) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
