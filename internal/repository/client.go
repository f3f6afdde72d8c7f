package repository

import (
	"context"
	"fmt"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

type ClientRepository struct {
	db    DBTX
	clock core.Clock
}

func NewClientRepository(db DBTX, clock core.Clock) *ClientRepository {
	return &ClientRepository{db: db, clock: clock}
}

func (r *ClientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	query := `
		SELECT id, tenant_id, nome_completo, cpf, phone, valor_parcela, propensity_score, status, modified
		FROM clients WHERE id = ` + placeholder(1)

	var c domain.Client
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.TenantID,
		&c.NomeCompleto,
		&c.CPF,
		&c.Phone,
		&c.ValorParcela,
		&c.PropensityScore,
		&c.Status,
		&c.Modified,
	)
	if err != nil {
		return nil, notFound(err, "client", id)
	}
	return &c, nil
}

// UpdateStatus overwrites the client's collection status.
func (r *ClientRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	query := `
		UPDATE clients SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2)
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	return nil
}

// Save inserts the client or replaces it by id.
func (r *ClientRepository) Save(ctx context.Context, c *domain.Client) error {
	if c.Modified.IsZero() {
		c.Modified = r.clock.Now()
	}
	query := `
		INSERT INTO clients (id, tenant_id, nome_completo, cpf, phone, valor_parcela, propensity_score, status, modified)
		VALUES (` + placeholders(1, 9) + `)` +
		upsertClause([]string{"tenant_id", "nome_completo", "cpf", "phone", "valor_parcela", "propensity_score", "status", "modified"})

	_, err := r.db.ExecContext(ctx, query, c.ID, c.TenantID, c.NomeCompleto, c.CPF, c.Phone, c.ValorParcela,
		nullFloat(c.PropensityScore), c.Status, formatDateInDatabase(c.Modified))
	return err
}
