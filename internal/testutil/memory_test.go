package testutil

import (
	"context"
	"errors"
	"testing"

	"canteen-service/internal/models"
	"canteen-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInStudentTx_RollbackKeepsOtherStudents(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(NewClock(Epoch).Now)
	mine := SeedOrder(t, repo, "S001", models.OrderStatusPaidUnverified, "ABC234XY")
	theirs := SeedOrder(t, repo, "S002", models.OrderStatusPaidUnverified, "DEF234XY")

	boom := errors.New("boom")
	err := repo.InStudentTx(ctx, "S001", func(tx repository.Repository) error {
		_, err := tx.TransitionOrder(ctx, mine.ID, []string{models.OrderStatusPaidUnverified}, models.OrderStatusCancelled)
		require.NoError(t, err)
		require.NoError(t, tx.AddCancellationEvent(ctx, "S001", mine.ID, Epoch))
		require.NoError(t, tx.SetStudentBlocked(ctx, "S001", true, "test"))

		// S002 commits while S001's transaction is still open
		_, err = repo.TransitionOrder(ctx, theirs.ID, []string{models.OrderStatusPaidUnverified}, models.OrderStatusCancelled)
		require.NoError(t, err)
		require.NoError(t, repo.AddCancellationEvent(ctx, "S002", theirs.ID, Epoch))
		require.NoError(t, repo.SetStudentBlocked(ctx, "S002", true, "other"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	order, err := repo.GetOrderByID(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaidUnverified, order.Status)
	student, err := repo.GetStudent(ctx, "S001")
	require.NoError(t, err)
	assert.False(t, student.Blocked)

	order, err = repo.GetOrderByID(ctx, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	student, err = repo.GetStudent(ctx, "S002")
	require.NoError(t, err)
	assert.True(t, student.Blocked)

	events := repo.CancellationEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "S002", events[0].PID)
}

func TestInStudentTx_CommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(nil)
	order := SeedOrder(t, repo, "S001", models.OrderStatusPaidUnverified, "ABC234XY")

	err := repo.InStudentTx(ctx, "S001", func(tx repository.Repository) error {
		return tx.AddCancellationEvent(ctx, "S001", order.ID, Epoch)
	})
	require.NoError(t, err)
	repo.AddCancellationEventAt("S001", order.ID, Epoch)

	events := repo.CancellationEvents()
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}
