package domain

import (
	"database/sql"
	"time"
)

// Client is the debt/installment record a workflow runs against.
type Client struct {
	ID              string
	TenantID        string
	NomeCompleto    string
	CPF             string
	Phone           string
	ValorParcela    float64
	PropensityScore sql.NullFloat64
	Status          string
	Modified        time.Time
}

// Score returns the propensity score, 0 when unknown.
func (c *Client) Score() float64 {
	if c.PropensityScore.Valid {
		return c.PropensityScore.Float64
	}
	return 0
}
