package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const blobVersion = 1

type blobEnvelope[T any] struct {
	V     int `json:"v"`
	Items []T `json:"items"`
}

func encodeBlob[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(blobEnvelope[T]{V: blobVersion, Items: items})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeBlob accepts the versioned envelope and the legacy bare JSON array.
func decodeBlob[T any](s string) ([]T, error) {
	raw := bytes.TrimSpace([]byte(s))
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode legacy blob: %w", err)
		}
		return items, nil
	}

	var env blobEnvelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	if env.V < 1 || env.V > blobVersion {
		return nil, fmt.Errorf("unsupported blob version %d", env.V)
	}
	return env.Items, nil
}
