package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Refund(ctx context.Context, transactionID string, amount int64) (string, error) {
	args := m.Called(ctx, transactionID, amount)
	return args.String(0), args.Error(1)
}

type MockCompliance struct {
	mock.Mock
}

func (m *MockCompliance) ApprovePayout(ctx context.Context, accountID string, amount int64) error {
	args := m.Called(ctx, accountID, amount)
	return args.Error(0)
}
