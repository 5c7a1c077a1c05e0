package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type format string

const (
	formatJSON format = "json"
	formatYAML format = "yaml"
)

// formatOf picks the document format from the file extension. Anything that
// is not .yaml or .yml is read as JSON.
func formatOf(name string) format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatJSON
}

// toJSON rewrites a YAML document as JSON so Decode applies the same strict
// field checks to both. JSON input is returned untouched.
func toJSON(f format, data []byte) ([]byte, error) {
	if f != formatYAML {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(jsonSafe(doc))
	if err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return out, nil
}

// jsonSafe stringifies map keys and renders unquoted YAML timestamps
// (start_at: 2024-01-01T00:00:00Z) back to RFC 3339 so they land in string fields.
func jsonSafe(node any) any {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			n[k] = jsonSafe(v)
		}
		return n
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[fmt.Sprint(k)] = jsonSafe(v)
		}
		return out
	case []any:
		for i, v := range n {
			n[i] = jsonSafe(v)
		}
		return n
	case time.Time:
		return n.Format(time.RFC3339)
	}
	return node
}
