package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

// MockGraphRepo implements GraphRepo for testing
type MockGraphRepo struct {
	FindByIDFunc func(ctx context.Context, id string) (*domain.WorkflowGraph, error)
}

func (m *MockGraphRepo) FindByID(ctx context.Context, id string) (*domain.WorkflowGraph, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

// MockClientRepo implements ClientRepo for testing
type MockClientRepo struct {
	FindByIDFunc     func(ctx context.Context, id string) (*domain.Client, error)
	UpdateStatusFunc func(ctx context.Context, id string, status string) error
}

func (m *MockClientRepo) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}
func (m *MockClientRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

// MockChannelRepo implements ChannelRepo for testing
type MockChannelRepo struct {
	FindConnectedFunc func(ctx context.Context, tenantID string, kind string) (*domain.MessagingChannel, error)
}

func (m *MockChannelRepo) FindConnected(ctx context.Context, tenantID string, kind string) (*domain.MessagingChannel, error) {
	if m.FindConnectedFunc != nil {
		return m.FindConnectedFunc(ctx, tenantID, kind)
	}
	return nil, repository.ErrNotFound
}

type sentMessage struct {
	ChannelID string
	Phone     string
	Message   string
}

// MockDispatcher records every message it is asked to send
type MockDispatcher struct {
	SendTextFunc func(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error
	mu           sync.Mutex
	Sent         []sentMessage
}

func (m *MockDispatcher) SendText(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, sentMessage{ChannelID: channel.ID, Phone: phone, Message: message})
	m.mu.Unlock()
	if m.SendTextFunc != nil {
		return m.SendTextFunc(ctx, channel, phone, message)
	}
	return nil
}

// MockRunner implements Runner for testing
type MockRunner struct {
	RunFunc func(ctx context.Context, workflowID string, clientID string, opts RunOptions) (*RunResult, error)
}

func (m *MockRunner) Run(ctx context.Context, workflowID string, clientID string, opts RunOptions) (*RunResult, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, workflowID, clientID, opts)
	}
	return &RunResult{Status: domain.ExecutionDone}, nil
}

// memExecutionRepo is an in-memory ExecutionRepo with the same locking rules as the SQL repository.
type memExecutionRepo struct {
	mu          sync.Mutex
	rows        map[string]domain.WorkflowExecution
	nodeUpdates []string
	clock       func() time.Time

	UpdateFunc func(e *domain.WorkflowExecution) error
}

func newMemExecutionRepo(now time.Time) *memExecutionRepo {
	return &memExecutionRepo{rows: map[string]domain.WorkflowExecution{}, clock: func() time.Time { return now }}
}

func copyExecution(e domain.WorkflowExecution) domain.WorkflowExecution {
	e.ExecutionLog = append([]domain.LogEntry(nil), e.ExecutionLog...)
	return e
}

func (m *memExecutionRepo) Create(ctx context.Context, e *domain.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.ID] = copyExecution(*e)
	return nil
}

func (m *memExecutionRepo) FindByID(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := copyExecution(e)
	return &c, nil
}

func (m *memExecutionRepo) FindActive(ctx context.Context, workflowID string, clientID string) (*domain.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.rows {
		if e.WorkflowID == workflowID && e.ClientID == clientID &&
			(e.Status == domain.ExecutionRunning || e.Status == domain.ExecutionWaiting) {
			c := copyExecution(e)
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memExecutionRepo) UpdateCurrentNode(ctx context.Context, id string, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.CurrentNodeID = nodeID
	m.rows[id] = e
	m.nodeUpdates = append(m.nodeUpdates, nodeID)
	return nil
}

func (m *memExecutionRepo) Update(ctx context.Context, e *domain.WorkflowExecution) error {
	if m.UpdateFunc != nil {
		if err := m.UpdateFunc(e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[e.ID]; !ok {
		return repository.ErrNotFound
	}
	m.rows[e.ID] = copyExecution(*e)
	return nil
}

func (m *memExecutionRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.WorkflowExecution
	for _, e := range m.rows {
		if e.Status == domain.ExecutionWaiting && e.NextRunAt.Valid && !e.NextRunAt.Time.After(now) {
			due = append(due, copyExecution(e))
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Time.Before(due[j].NextRunAt.Time) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memExecutionRepo) Claim(ctx context.Context, id string, modified time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok || e.Status != domain.ExecutionWaiting || !e.Modified.Equal(modified) {
		return false
	}
	e.Status = domain.ExecutionRunning
	e.Modified = m.clock()
	m.rows[id] = e
	return true
}

func (m *memExecutionRepo) FindStuck(ctx context.Context, notModifiedSince time.Time, limit int) ([]domain.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stuck []domain.WorkflowExecution
	for _, e := range m.rows {
		if e.Status == domain.ExecutionRunning && e.Modified.Before(notModifiedSince) {
			stuck = append(stuck, copyExecution(e))
		}
	}
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (m *memExecutionRepo) Release(ctx context.Context, id string, modified time.Time, nextRunAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok || e.Status != domain.ExecutionRunning || !e.Modified.Equal(modified) {
		return false
	}
	e.Status = domain.ExecutionWaiting
	e.NextRunAt.Time, e.NextRunAt.Valid = nextRunAt, true
	e.Modified = m.clock()
	m.rows[id] = e
	return true
}

func (m *memExecutionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memExecutionRepo) get(id string) domain.WorkflowExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyExecution(m.rows[id])
}
