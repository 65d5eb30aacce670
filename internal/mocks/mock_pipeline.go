package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
)

type MockTextProvider struct {
	mock.Mock
}

func (m *MockTextProvider) Text(ctx context.Context, path string) (string, error) {
	args := m.Called(ctx, path)
	if f, ok := args.Get(0).(func(context.Context, string) string); ok {
		return f(ctx, path), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Parse(ctx context.Context, req llm.ParseRequest) (entity.Invoice, error) {
	args := m.Called(ctx, req)
	if f, ok := args.Get(0).(func(context.Context, llm.ParseRequest) entity.Invoice); ok {
		return f(ctx, req), args.Error(1)
	}
	return args.Get(0).(entity.Invoice), args.Error(1)
}

type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Write(ctx context.Context, rows []entity.Row, dest string) error {
	args := m.Called(ctx, rows, dest)
	return args.Error(0)
}
