package mocks

import (
	"context"

	"tale-server/internal/ai"
	"tale-server/internal/models"
	"tale-server/pkg/jsonrepair"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the ai.Client type
type MockClient struct {
	mock.Mock
}

func (_m *MockClient) CallWithRetry(ctx context.Context, systemPrompt string, history []models.ChatMessage, fields []jsonrepair.Field, maxRetries int) (map[string]any, error) {
	ret := _m.Called(ctx, systemPrompt, history, fields, maxRetries)

	var r0 map[string]any
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(map[string]any)
	}
	return r0, ret.Error(1)
}

func (_m *MockClient) ClassifyError(err error) models.ErrorClassification {
	ret := _m.Called(err)
	return ret.Get(0).(models.ErrorClassification)
}

func (_m *MockClient) GetContextLimit(ctx context.Context) (int, error) {
	ret := _m.Called(ctx)
	return ret.Get(0).(int), ret.Error(1)
}

func (_m *MockClient) Model() string {
	ret := _m.Called()
	return ret.String(0)
}

var _ ai.Client = (*MockClient)(nil)
