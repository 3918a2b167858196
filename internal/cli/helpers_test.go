package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeData decodes the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const perimeterLayers = `{
	"layers": [{
		"id": "L1",
		"kind": "collabroom_layer",
		"display_name": "Perimeter",
		"source": {"url": "https://maps.example/wfs", "type_name": "perimeter"},
		"features": [
			{"feature_id": "f1", "type": "polygon", "coordinates": [{"lat": 34.1, "lng": -118.2}]},
			{"feature_id": "f2", "type": "marker", "hazard": {"hazard_id": "h1", "label": "Gas leak", "radius": 50, "metric": "m"}}
		]
	}]
}`
