package mocks

import (
	"context"
	"encoding/json"

	"tale-server/internal/models"
	"tale-server/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// SessionRepository is a mock type for repository.SessionRepository
type SessionRepository struct {
	mock.Mock
}

func (_m *SessionRepository) Upsert(ctx context.Context, session *models.Session) error {
	return _m.Called(ctx, session).Error(0)
}

func (_m *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	ret := _m.Called(ctx, id)
	var r0 *models.Session
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Session)
	}
	return r0, ret.Error(1)
}

func (_m *SessionRepository) List(ctx context.Context) ([]*models.Session, error) {
	ret := _m.Called(ctx)
	var r0 []*models.Session
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.Session)
	}
	return r0, ret.Error(1)
}

func (_m *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return _m.Called(ctx, id).Error(0)
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// SummaryRepository is a mock type for repository.SummaryRepository
type SummaryRepository struct {
	mock.Mock
}

func (_m *SummaryRepository) Upsert(ctx context.Context, summary *models.StorySummary) error {
	return _m.Called(ctx, summary).Error(0)
}

func (_m *SummaryRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.StorySummary, error) {
	ret := _m.Called(ctx, sessionID)
	var r0 *models.StorySummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StorySummary)
	}
	return r0, ret.Error(1)
}

var _ repository.SummaryRepository = (*SummaryRepository)(nil)

// StepRepository is a mock type for repository.StepRepository
type StepRepository struct {
	mock.Mock
}

func (_m *StepRepository) Append(ctx context.Context, step *models.StoryStep) error {
	return _m.Called(ctx, step).Error(0)
}

func (_m *StepRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.StoryStep, error) {
	ret := _m.Called(ctx, sessionID)
	var r0 []*models.StoryStep
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.StoryStep)
	}
	return r0, ret.Error(1)
}

var _ repository.StepRepository = (*StepRepository)(nil)

// ConfigRepository is a mock type for repository.ConfigRepository
type ConfigRepository struct {
	mock.Mock
}

func (_m *ConfigRepository) Upsert(ctx context.Context, label string, value json.RawMessage) error {
	return _m.Called(ctx, label, value).Error(0)
}

func (_m *ConfigRepository) GetByLabel(ctx context.Context, label string) (json.RawMessage, error) {
	ret := _m.Called(ctx, label)
	var r0 json.RawMessage
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(json.RawMessage)
	}
	return r0, ret.Error(1)
}

var _ repository.ConfigRepository = (*ConfigRepository)(nil)

// ContextLimitCache is a mock type for repository.ContextLimitCache
type ContextLimitCache struct {
	mock.Mock
}

func (_m *ContextLimitCache) Get(ctx context.Context, model string) (int, error) {
	ret := _m.Called(ctx, model)
	return ret.Get(0).(int), ret.Error(1)
}

func (_m *ContextLimitCache) Set(ctx context.Context, model string, limit int) error {
	return _m.Called(ctx, model, limit).Error(0)
}

var _ repository.ContextLimitCache = (*ContextLimitCache)(nil)
