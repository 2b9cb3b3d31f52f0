package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) VerifyConnectivity(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestVerifyOrClose(t *testing.T) {
	t.Run("reachable driver stays open", func(t *testing.T) {
		driver := &mockDriver{}
		driver.On("VerifyConnectivity", mock.Anything).Return(nil).Once()

		require.NoError(t, verifyOrClose(context.Background(), driver))
		driver.AssertExpectations(t)
		driver.AssertNotCalled(t, "Close", mock.Anything)
	})

	t.Run("unreachable driver is closed", func(t *testing.T) {
		refused := errors.New("connection refused")
		driver := &mockDriver{}
		driver.On("VerifyConnectivity", mock.Anything).Return(refused).Once()
		driver.On("Close", mock.Anything).Return(nil).Once()

		err := verifyOrClose(context.Background(), driver)
		assert.ErrorIs(t, err, refused)
		driver.AssertExpectations(t)
	})

	t.Run("close failure is reported alongside", func(t *testing.T) {
		refused := errors.New("connection refused")
		driver := &mockDriver{}
		driver.On("VerifyConnectivity", mock.Anything).Return(refused).Once()
		driver.On("Close", mock.Anything).Return(errors.New("pool busy")).Once()

		err := verifyOrClose(context.Background(), driver)
		assert.ErrorIs(t, err, refused)
		assert.Contains(t, err.Error(), "pool busy")
		driver.AssertExpectations(t)
	})
}
