package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// marshalCoords converts a coordinate list to JSON TEXT for storage.
// A nil list is stored as "[]" so that reads never return null.
func marshalCoords(coords []model.LatLng) (string, error) {
	if len(coords) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(coords)
	if err != nil {
		return "", fmt.Errorf("marshal coordinates: %w", err)
	}
	return string(data), nil
}

// unmarshalCoords parses coordinate JSON TEXT. Empty input yields nil, which
// matches how layers arrive from the transport when they have no geometry.
func unmarshalCoords(data string) ([]model.LatLng, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var coords []model.LatLng
	if err := json.Unmarshal([]byte(data), &coords); err != nil {
		return nil, fmt.Errorf("unmarshal coordinates: %w", err)
	}
	return coords, nil
}

// marshalProperties converts a feature property map to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so stored text matches what
// the server sent.
func marshalProperties(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(props); err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalProperties parses property JSON TEXT. Numbers decode as
// json.Number to avoid float64 precision loss for values > 2^53.
func unmarshalProperties(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return props, nil
}

// marshalPayload normalizes a record payload. An empty payload is stored as
// "{}".
func marshalPayload(payload json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return "{}", nil
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("marshal payload: invalid JSON")
	}
	return string(payload), nil
}

// toMillis stores timestamps as Unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
