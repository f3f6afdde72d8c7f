package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// ParseDefinition decodes a stored workflow definition from YAML or JSON bytes.
func ParseDefinition(data []byte) (*domain.WorkflowGraph, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("graph: definition payload is empty")
	}
	var wf domain.WorkflowGraph
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("graph: decode definition: %w", err)
	}
	return &wf, nil
}

// LoadDefinitionReader reads a workflow definition from r.
func LoadDefinitionReader(r io.Reader) (*domain.WorkflowGraph, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("graph: read definition: %w", err)
	}
	return ParseDefinition(content)
}

// LoadDefinitionFile loads a workflow definition from path.
func LoadDefinitionFile(path string) (*domain.WorkflowGraph, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	return ParseDefinition(content)
}
