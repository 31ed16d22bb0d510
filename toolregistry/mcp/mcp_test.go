package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentYAML(t *testing.T) {
	raw := []byte(`
mcpServers:
  filesystem:
    command: mcp-server-filesystem
    args: ["--root", "/workspace"]
    env:
      LOG_LEVEL: debug
  remote:
    transport: http
    url: https://tools.example.com/rpc
    disabled: true
`)
	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Contains(t, doc.Servers, "filesystem")
	require.Contains(t, doc.Servers, "remote")

	fs := doc.Servers["filesystem"]
	assert.Equal(t, "mcp-server-filesystem", fs.Command)
	assert.Equal(t, []string{"--root", "/workspace"}, fs.Args)
	assert.Equal(t, "debug", fs.Env["LOG_LEVEL"])
	assert.False(t, fs.Disabled)

	remote := doc.Servers["remote"]
	assert.Equal(t, transportHTTP, remote.Transport)
	assert.True(t, remote.Disabled)
}

func TestParseDocumentJSONIsValidYAML(t *testing.T) {
	raw := []byte(`{"mcpServers":{"svc":{"command":"svc-mcp","transport":"stdio"}}}`)
	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Contains(t, doc.Servers, "svc")
	assert.Equal(t, "svc-mcp", doc.Servers["svc"].Command)
}

func TestParseDocumentRejectsInvalidDocument(t *testing.T) {
	_, err := ParseDocument([]byte(`not: [valid`))
	assert.Error(t, err)
}
