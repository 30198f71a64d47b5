package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResultRoundTrips(t *testing.T) {
	resp := NewResult(float64(1), map[string]string{"ok": "yes"})
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Nil(t, decoded.Error)
	assert.NotNil(t, decoded.Result)
}

func TestNewErrorOmitsResult(t *testing.T) {
	resp := NewError(nil, CodeMethodNotFound, "method not found", nil)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"result"`)
	assert.Contains(t, string(data), `"code":-32601`)
}

func TestTextResultSingleContentBlock(t *testing.T) {
	r := TextResult("hello")
	require.Len(t, r.Content, 1)
	assert.Equal(t, "text", r.Content[0].Type)
	assert.Equal(t, "hello", r.Content[0].Text)
	assert.False(t, r.IsError)
}

func TestRequestUnmarshalsToolCallParams(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ping_host","arguments":{"host":"127.0.0.1"}}}`)
	var req Request
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "tools/call", req.Method)

	var params ToolCallParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "ping_host", params.Name)
}
