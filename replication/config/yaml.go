package config

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// yamlParser implements koanf.Parser on goccy/go-yaml.
type yamlParser struct{}

// Unmarshal parses YAML bytes into a nested map.
func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	const errCtx = "parsing yaml"

	out := make(map[string]any)

	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return out, nil
}

// Marshal renders a nested map as YAML.
func (yamlParser) Marshal(m map[string]any) ([]byte, error) {
	const errCtx = "rendering yaml"

	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return b, nil
}
