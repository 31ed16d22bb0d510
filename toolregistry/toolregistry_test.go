package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string, params json.RawMessage) *Native {
	return &Native{
		Name:       name,
		Parameters: params,
		Func: func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	}
}

func TestInvokeUnknownToolReturnsFailureNotError(t *testing.T) {
	r := New(nil)
	result := r.Invoke(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown tool does_not_exist")
}

func TestInvokeRejectsMissingRequiredField(t *testing.T) {
	r := New(nil)
	params := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	require.NoError(t, r.Register(echoTool("search", params)))

	result := r.Invoke(context.Background(), "search", json.RawMessage(`{}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "failed validation")
}

func TestInvokePassesThroughExtraFields(t *testing.T) {
	r := New(nil)
	params := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	require.NoError(t, r.Register(echoTool("search", params)))

	result := r.Invoke(context.Background(), "search", json.RawMessage(`{"q":"hi","extra":true}`))
	assert.True(t, result.Success)
	assert.JSONEq(t, `{"q":"hi","extra":true}`, result.Content)
}

func TestRegisterShadowsEarlierSameName(t *testing.T) {
	r := New(nil)
	first := echoTool("dup", nil)
	second := &Native{Name: "dup", Func: func(context.Context, json.RawMessage) (string, error) { return "second", nil }}
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	result := r.Invoke(context.Background(), "dup", json.RawMessage(`{}`))
	assert.True(t, result.Success)
	assert.Equal(t, "second", result.Content)
}

func TestSubstituteSandboxReplacesNativeTool(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(echoTool("read_file", nil)))

	sandboxed := &Native{Name: "read_file", Func: func(context.Context, json.RawMessage) (string, error) { return "sandboxed", nil }}
	ok := r.SubstituteSandbox("read_file", sandboxed)
	assert.True(t, ok)

	result := r.Invoke(context.Background(), "read_file", json.RawMessage(`{}`))
	assert.Equal(t, "sandboxed", result.Content)
}

func TestSubstituteSandboxNoOpWhenNotRegistered(t *testing.T) {
	r := New(nil)
	ok := r.SubstituteSandbox("missing", echoTool("missing", nil))
	assert.False(t, ok)
}

func TestToolFuncErrorBecomesFailedResultNotDispatchError(t *testing.T) {
	r := New(nil)
	failing := &Native{Name: "fails", Func: func(context.Context, json.RawMessage) (string, error) {
		return "", assertErr{}
	}}
	require.NoError(t, r.Register(failing))

	result := r.Invoke(context.Background(), "fails", json.RawMessage(`{}`))
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
