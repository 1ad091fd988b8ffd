package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Models []Model `yaml:"models"`
}

// LoadFile reads a YAML catalog of the form:
//
//	models:
//	  - id: openai/gpt-4o
//	    name: GPT-4o
//	    provider: OpenAI
//	    default: true
func LoadFile(path string) ([]Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) ([]Model, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i, m := range doc.Models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
	}
	return doc.Models, nil
}
