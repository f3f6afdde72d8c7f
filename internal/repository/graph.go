package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RealZimboGuy/reguaflow/internal/config"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// upsertClause renders the dialect's "insert or update" tail for a table keyed by id.
func upsertClause(columns []string) string {
	sets := make([]string, 0, len(columns))
	if databaseType() == config.DATABASE_TYPE_MYSQL {
		for _, c := range columns {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for _, c := range columns {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}

type GraphRepository struct {
	db DBTX
}

func NewGraphRepository(db DBTX) *GraphRepository {
	return &GraphRepository{db: db}
}

// Save inserts the workflow graph or replaces it by id. Nodes and edges are stored as JSON documents.
func (r *GraphRepository) Save(ctx context.Context, g *domain.WorkflowGraph) error {
	nodes, err := json.Marshal(g.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(g.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	query := `
		INSERT INTO workflow_graphs (id, tenant_id, name, is_active, nodes, edges, created, modified)
		VALUES (` + placeholders(1, 8) + `)` +
		upsertClause([]string{"tenant_id", "name", "is_active", "nodes", "edges", "modified"})

	_, err = r.db.ExecContext(ctx, query, g.ID, g.TenantID, g.Name, g.IsActive, string(nodes), string(edges),
		formatDateInDatabase(g.Created), formatDateInDatabase(g.Modified))
	return err
}

func (r *GraphRepository) FindByID(ctx context.Context, id string) (*domain.WorkflowGraph, error) {
	query := `
		SELECT id, tenant_id, name, is_active, nodes, edges, created, modified
		FROM workflow_graphs WHERE id = ` + placeholder(1)

	var g domain.WorkflowGraph
	var nodes, edges string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.TenantID, &g.Name, &g.IsActive, &nodes, &edges, &g.Created, &g.Modified)
	if err != nil {
		return nil, notFound(err, "workflow", id)
	}
	if err := json.Unmarshal([]byte(nodes), &g.Nodes); err != nil {
		return nil, fmt.Errorf("workflow %s: decode nodes: %w", id, err)
	}
	if err := json.Unmarshal([]byte(edges), &g.Edges); err != nil {
		return nil, fmt.Errorf("workflow %s: decode edges: %w", id, err)
	}
	return &g, nil
}

// SetActive toggles whether the workflow may be invoked.
func (r *GraphRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE workflow_graphs SET is_active = ` + placeholder(1) + ` WHERE id = ` + placeholder(2)
	_, err := r.db.ExecContext(ctx, query, active, id)
	return err
}
