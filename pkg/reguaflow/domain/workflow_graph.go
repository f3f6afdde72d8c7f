package domain

import "time"

// WorkflowGraph is the authored automation definition. The engine only reads it.
type WorkflowGraph struct {
	ID       string    `json:"id" yaml:"id"`
	TenantID string    `json:"tenant_id" yaml:"tenant_id"`
	Name     string    `json:"name" yaml:"name"`
	IsActive bool      `json:"is_active" yaml:"is_active"`
	Nodes    []Node    `json:"nodes" yaml:"nodes"`
	Edges    []Edge    `json:"edges" yaml:"edges"`
	Created  time.Time `json:"created" yaml:"-"`
	Modified time.Time `json:"modified" yaml:"-"`
}

type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type,omitempty" yaml:"type,omitempty"`
	IsStart bool           `json:"is_start,omitempty" yaml:"is_start,omitempty"`
	Data    map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// NodeType returns data.nodeType when the editor stored it there, otherwise the node's own type.
func (n Node) NodeType() string {
	if v, ok := n.Data["nodeType"].(string); ok && v != "" {
		return v
	}
	return n.Type
}

type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
}
