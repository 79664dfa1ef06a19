package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/layer-3/passage/adapters/store"
	"github.com/layer-3/passage/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRevocationStore struct {
	mock.Mock
}

func (m *MockRevocationStore) Revoke(ctx context.Context, entry core.RevocationEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

func TestSweeperRunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registry := store.NewMemoryStore()

	require.NoError(t, registry.Revoke(ctx, core.RevocationEntry{TokenID: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, registry.Revoke(ctx, core.RevocationEntry{TokenID: "live", ExpiresAt: now.Add(time.Hour)}))

	sweeper := NewSweeper(registry, time.Hour, WithClock(func() time.Time { return now }))
	removed, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	live, err := registry.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, live)
}

func TestSweeperFailureIsReported(t *testing.T) {
	registry := new(MockRevocationStore)
	registry.On("Sweep", mock.Anything, mock.Anything).Return(0, core.ErrStoreUnavailable)

	_, err := NewSweeper(registry, time.Hour).RunOnce(context.Background())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	registry.AssertExpectations(t)
}

func TestSweeperLoopSurvivesFailures(t *testing.T) {
	registry := new(MockRevocationStore)
	calls := make(chan struct{}, 16)
	registry.On("Sweep", mock.Anything, mock.Anything).
		Return(0, errors.New("connection refused")).
		Run(func(mock.Arguments) {
			select {
			case calls <- struct{}{}:
			default:
			}
		})

	sweeper := NewSweeper(registry, 10*time.Millisecond)
	sweeper.Start(context.Background())
	sweeper.Start(context.Background())

	for i := 0; i < 3; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("sweep %d did not run", i+1)
		}
	}
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	registry := new(MockRevocationStore)
	registry.On("Sweep", mock.Anything, mock.Anything).Return(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(registry, time.Hour)
	sweeper.Start(ctx)
	cancel()

	select {
	case <-sweeper.done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeperStopWithoutStart(t *testing.T) {
	sweeper := NewSweeper(store.NewMemoryStore(), 0)
	assert.Equal(t, DefaultSweepInterval, sweeper.interval)
	sweeper.Stop()
}
