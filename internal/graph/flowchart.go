package graph

import (
	"fmt"
	"strings"
)

// Flowchart renders g as a mermaid flowchart. Branch edges carry their handle as label.
func Flowchart(g *Graph) string {
	var sb strings.Builder

	// Modern class styles
	triggerClass := "fill:#5568FE,stroke:#3346FF,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"
	actionClass := "fill:#F0F4F8,stroke:#B0C4DE,stroke-width:1px,color:#333,rx:10,ry:10;"
	conditionClass := "fill:#FFD93D,stroke:#E6C200,stroke-width:2px,color:#333,stroke-dasharray: 4 2,rx:10,ry:10;"
	waitClass := "fill:#4ECDC4,stroke:#1F9C8C,stroke-width:2px,color:#fff,stroke-dasharray: 4 2,rx:10,ry:10;"

	sb.WriteString("flowchart TD\n")

	for _, n := range g.Nodes() {
		label := n.Type()
		switch v := n.(type) {
		case *Condition:
			label = fmt.Sprintf("%s %s %v", v.Field, v.Operator, v.Value)
		case *Expression:
			label = v.Source
		case *Wait:
			label = fmt.Sprintf("wait %v days", v.Days)
		}
		if Branching(n) {
			sb.WriteString(fmt.Sprintf("    %s{\"%s\"}\n", mermaidID(n.ID()), escape(label)))
		} else {
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", mermaidID(n.ID()), escape(label)))
		}
	}

	for _, n := range g.Nodes() {
		for _, e := range g.Outgoing(n.ID()) {
			if e.SourceHandle != "" {
				sb.WriteString(fmt.Sprintf("    %s -->|%s| %s\n", mermaidID(e.Source), e.SourceHandle, mermaidID(e.Target)))
			} else {
				sb.WriteString(fmt.Sprintf("    %s --> %s\n", mermaidID(e.Source), mermaidID(e.Target)))
			}
		}
	}

	// classDefs
	sb.WriteString(fmt.Sprintf("    classDef triggerClass %s\n", triggerClass))
	sb.WriteString(fmt.Sprintf("    classDef actionClass %s\n", actionClass))
	sb.WriteString(fmt.Sprintf("    classDef conditionClass %s\n", conditionClass))
	sb.WriteString(fmt.Sprintf("    classDef waitClass %s\n", waitClass))

	for _, n := range g.Nodes() {
		class := "actionClass"
		switch {
		case n.Kind() == KindTrigger:
			class = "triggerClass"
		case n.Kind() == KindWait:
			class = "waitClass"
		case Branching(n):
			class = "conditionClass"
		}
		sb.WriteString(fmt.Sprintf("    class %s %s;\n", mermaidID(n.ID()), class))
	}

	return sb.String()
}

// mermaid ids cannot contain dashes or spaces
func mermaidID(id string) string {
	return "n_" + strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(id)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
