// Package taskmanager runs fire-and-forget background tasks. The engine
// uses it for image enrichment: narrative display must never wait on image
// latency, but the server still needs to track, cancel and drain these
// tasks on shutdown.
package taskmanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskFunc is the unit of work executed by a task.
type TaskFunc func(ctx context.Context) error

// Task tracks one submitted unit of work.
type Task struct {
	ID        uuid.UUID
	Name      string
	Status    TaskStatus
	Err       error
	CreatedAt time.Time
	UpdatedAt time.Time

	cancel context.CancelFunc
}

var (
	ErrManagerClosed = errors.New("task manager is closed")
	ErrTaskNotFound  = errors.New("task not found")
)

// Manager owns a set of detached background tasks.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[uuid.UUID]*Task
	closing chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// New creates a task manager.
func New(logger *zap.Logger) *Manager {
	return &Manager{
		tasks:   make(map[uuid.UUID]*Task),
		closing: make(chan struct{}),
		logger:  logger.Named("TaskManager"),
	}
}

// Submit schedules fn to run in its own goroutine, detached from the
// caller's cancellation. The returned id can be used to query or cancel
// the task.
func (m *Manager) Submit(ctx context.Context, name string, fn TaskFunc) (uuid.UUID, error) {
	select {
	case <-m.closing:
		return uuid.Nil, ErrManagerClosed
	default:
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	task := &Task{
		ID:        uuid.New(),
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(taskCtx, task, fn)
	return task.ID, nil
}

func (m *Manager) run(ctx context.Context, task *Task, fn TaskFunc) {
	defer m.wg.Done()
	defer task.cancel()

	m.setStatus(task.ID, TaskStatusRunning, nil)
	err := fn(ctx)

	switch {
	case err == nil:
		m.setStatus(task.ID, TaskStatusCompleted, nil)
	case errors.Is(err, context.Canceled):
		m.setStatus(task.ID, TaskStatusCancelled, err)
	default:
		m.logger.Warn("Background task failed",
			zap.String("task_id", task.ID.String()),
			zap.String("task_name", task.Name),
			zap.Error(err))
		m.setStatus(task.ID, TaskStatusFailed, err)
	}
}

func (m *Manager) setStatus(id uuid.UUID, status TaskStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		task.Status = status
		task.Err = err
		task.UpdatedAt = time.Now().UTC()
	}
}

// Get returns a snapshot of the task with the given id.
func (m *Manager) Get(id uuid.UUID) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

// Cancel requests cancellation of a pending or running task.
func (m *Manager) Cancel(id uuid.UUID) error {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return ErrTaskNotFound
	}
	task.cancel()
	return nil
}

// Cleanup drops finished tasks older than age.
func (m *Manager) Cleanup(age time.Duration) {
	cutoff := time.Now().UTC().Add(-age)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, task := range m.tasks {
		switch task.Status {
		case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
			if task.UpdatedAt.Before(cutoff) {
				delete(m.tasks, id)
			}
		}
	}
}

// Shutdown stops accepting new tasks and waits for running ones to finish,
// or for ctx to expire, whichever comes first.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.closing)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.RLock()
		for _, task := range m.tasks {
			if task.Status == TaskStatusPending || task.Status == TaskStatusRunning {
				task.cancel()
			}
		}
		m.mu.RUnlock()
		return ctx.Err()
	}
}
