package persistence

import (
	"testing"

	"github.com/jpelkone/convoflow/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariablesCodec(t *testing.T) {
	data, err := EncodeVariables(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	got, err := DecodeVariables(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	vars := map[string]any{
		"name":  "Ada",
		"count": float64(3),
		"nested": map[string]any{
			"ok":   true,
			"tags": []any{"a", "b"},
		},
	}
	data, err = EncodeVariables(vars)
	require.NoError(t, err)

	got, err = DecodeVariables(data)
	require.NoError(t, err)
	assert.Equal(t, vars, got)

	_, err = DecodeVariables([]byte("{broken"))
	assert.Error(t, err)
}

func TestWaitingCodec(t *testing.T) {
	data, err := EncodeWaiting(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	got, err := DecodeWaiting(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	wc := &api.WaitingContext{
		NodeID:      "menu",
		Expect:      api.InputSelection,
		VariableKey: "menu.selection",
		Options: []api.ReplyOption{
			{Payload: "hours", Label: "Opening hours"},
			{Payload: "human", Label: "Talk to a human"},
		},
	}
	data, err = EncodeWaiting(wc)
	require.NoError(t, err)

	got, err = DecodeWaiting(data)
	require.NoError(t, err)
	assert.Equal(t, wc, got)
}

func TestPathCodec(t *testing.T) {
	data, err := EncodePath(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	got, err := DecodePath(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	path := []string{"start", "greet", "menu", "greet"}
	data, err = EncodePath(path)
	require.NoError(t, err)

	got, err = DecodePath(data)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
