package repository

import (
	"context"
	"fmt"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

type ChannelRepository struct {
	db DBTX
}

func NewChannelRepository(db DBTX) *ChannelRepository {
	return &ChannelRepository{db: db}
}

// FindConnected returns the tenant's oldest connected channel of the given kind.
func (r *ChannelRepository) FindConnected(ctx context.Context, tenantID string, kind string) (*domain.MessagingChannel, error) {
	query := `
		SELECT id, tenant_id, kind, provider, instance_name, base_url, api_token, status, created
		FROM messaging_channels
		WHERE tenant_id = ` + placeholder(1) + ` AND kind = ` + placeholder(2) + ` AND status = ` + placeholder(3) + `
		ORDER BY created ASC` + limitClause(4)

	var ch domain.MessagingChannel
	err := r.db.QueryRowContext(ctx, query, tenantID, kind, domain.ChannelStatusConnected, 1).Scan(
		&ch.ID,
		&ch.TenantID,
		&ch.Kind,
		&ch.Provider,
		&ch.InstanceName,
		&ch.BaseURL,
		&ch.APIToken,
		&ch.Status,
		&ch.Created,
	)
	if err != nil {
		return nil, notFound(err, "connected channel for tenant", fmt.Sprintf("%s/%s", tenantID, kind))
	}
	return &ch, nil
}

// Save inserts the channel or replaces it by id.
func (r *ChannelRepository) Save(ctx context.Context, ch *domain.MessagingChannel) error {
	query := `
		INSERT INTO messaging_channels (id, tenant_id, kind, provider, instance_name, base_url, api_token, status, created)
		VALUES (` + placeholders(1, 9) + `)` +
		upsertClause([]string{"tenant_id", "kind", "provider", "instance_name", "base_url", "api_token", "status"})

	_, err := r.db.ExecContext(ctx, query, ch.ID, ch.TenantID, ch.Kind, ch.Provider, ch.InstanceName, ch.BaseURL,
		ch.APIToken, ch.Status, formatDateInDatabase(ch.Created))
	return err
}
