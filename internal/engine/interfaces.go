package engine

import (
	"context"
	"time"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// GraphRepo defines read access to authored workflows, matching repository.GraphRepository.
type GraphRepo interface {
	FindByID(ctx context.Context, id string) (*domain.WorkflowGraph, error)
}

// ClientRepo defines the subject store, matching repository.ClientRepository.
type ClientRepo interface {
	FindByID(ctx context.Context, id string) (*domain.Client, error)
	UpdateStatus(ctx context.Context, id string, status string) error
}

// ChannelRepo finds the tenant's connected messaging channel, matching repository.ChannelRepository.
type ChannelRepo interface {
	FindConnected(ctx context.Context, tenantID string, kind string) (*domain.MessagingChannel, error)
}

// ExecutionRepo defines the execution record store, matching repository.ExecutionRepository.
type ExecutionRepo interface {
	Create(ctx context.Context, e *domain.WorkflowExecution) error
	FindByID(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	FindActive(ctx context.Context, workflowID string, clientID string) (*domain.WorkflowExecution, error)
	UpdateCurrentNode(ctx context.Context, id string, nodeID string) error
	Update(ctx context.Context, e *domain.WorkflowExecution) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowExecution, error)
	Claim(ctx context.Context, id string, modified time.Time) bool
	FindStuck(ctx context.Context, notModifiedSince time.Time, limit int) ([]domain.WorkflowExecution, error)
	Release(ctx context.Context, id string, modified time.Time, nextRunAt time.Time) bool
}

// Dispatcher delivers a rendered text message through a messaging channel.
type Dispatcher interface {
	SendText(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error
}
