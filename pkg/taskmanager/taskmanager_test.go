package taskmanager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tale-server/pkg/taskmanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmitAndComplete(t *testing.T) {
	m := taskmanager.New(zap.NewNop())
	done := make(chan struct{})

	id, err := m.Submit(context.Background(), "test", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	require.NoError(t, m.Shutdown(context.Background()))

	task, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.TaskStatusCompleted, task.Status)
}

func TestFailedTaskKeepsError(t *testing.T) {
	m := taskmanager.New(zap.NewNop())
	boom := errors.New("boom")

	id, err := m.Submit(context.Background(), "failing", func(ctx context.Context) error {
		return boom
	})
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(context.Background()))

	task, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, taskmanager.TaskStatusFailed, task.Status)
	assert.ErrorIs(t, task.Err, boom)
}

func TestTaskOutlivesCallerContext(t *testing.T) {
	m := taskmanager.New(zap.NewNop())

	callerCtx, cancel := context.WithCancel(context.Background())
	cancel() // caller is already gone when the task starts

	ran := make(chan struct{})
	_, err := m.Submit(callerCtx, "detached", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			close(ran)
			return nil
		}
	})
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("detached task was cancelled with its caller")
	}
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestSubmitAfterShutdown(t *testing.T) {
	m := taskmanager.New(zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Submit(context.Background(), "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, taskmanager.ErrManagerClosed)
}
