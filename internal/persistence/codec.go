package persistence

import (
	"encoding/json"

	"github.com/jpelkone/convoflow/pkg/api"
)

// Session variables, waiting context and execution path are persisted as
// JSON: the external contract pins variables to string-keyed maps of
// JSON-serializable values, and JSON round-trips those across processes
// without type registration.

// EncodeVariables serializes a session variable bag. Nil encodes to nil.
func EncodeVariables(vars map[string]any) ([]byte, error) {
	if vars == nil {
		return nil, nil
	}
	return json.Marshal(vars)
}

// DecodeVariables deserializes a variable bag. Empty input yields nil.
func DecodeVariables(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// EncodeWaiting serializes a waiting context. Nil encodes to nil.
func EncodeWaiting(wc *api.WaitingContext) ([]byte, error) {
	if wc == nil {
		return nil, nil
	}
	return json.Marshal(wc)
}

// DecodeWaiting deserializes a waiting context. Empty input yields nil.
func DecodeWaiting(data []byte) (*api.WaitingContext, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wc api.WaitingContext
	if err := json.Unmarshal(data, &wc); err != nil {
		return nil, err
	}
	return &wc, nil
}

// EncodePath serializes an execution path. Nil encodes to nil.
func EncodePath(path []string) ([]byte, error) {
	if path == nil {
		return nil, nil
	}
	return json.Marshal(path)
}

// DecodePath deserializes an execution path. Empty input yields nil.
func DecodePath(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var path []string
	if err := json.Unmarshal(data, &path); err != nil {
		return nil, err
	}
	return path, nil
}
