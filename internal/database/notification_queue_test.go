package database

import (
	"context"
	"testing"
	"time"

	"tintbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	due := &models.NotificationTask{TaskType: "confirmation", AppointmentID: "apt-1", Payload: "{}"}
	require.NoError(t, db.CreateNotificationTask(ctx, due))
	assert.NotZero(t, due.ID)
	assert.Equal(t, models.TaskStatusPending, due.Status)

	later := time.Now().Add(2 * time.Hour)
	future := &models.NotificationTask{TaskType: "reminder", AppointmentID: "apt-1", Payload: "{}", NextRetryAt: &later}
	require.NoError(t, db.CreateNotificationTask(ctx, future))

	t.Run("PendingSkipsFuture", func(t *testing.T) {
		tasks, err := db.GetPendingNotificationTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, due.ID, tasks[0].ID)
		assert.Nil(t, tasks[0].NextRetryAt)
	})

	t.Run("Retry", func(t *testing.T) {
		past := time.Now().Add(-time.Minute)
		require.NoError(t, db.UpdateNotificationTaskStatus(ctx, due.ID, models.TaskStatusRetry, "boom", &past))

		tasks, err := db.GetPendingNotificationTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, 1, tasks[0].RetryCount)
		require.NotNil(t, tasks[0].LastError)
		assert.Equal(t, "boom", *tasks[0].LastError)
	})

	t.Run("Completed", func(t *testing.T) {
		require.NoError(t, db.UpdateNotificationTaskStatus(ctx, due.ID, models.TaskStatusCompleted, "", nil))
		tasks, err := db.GetPendingNotificationTasks(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, tasks)

		all, err := db.GetNotificationTasksByAppointment(ctx, "apt-1")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, models.TaskStatusCompleted, all[0].Status)
		assert.NotNil(t, all[0].ProcessedAt)
	})

	t.Run("Failed", func(t *testing.T) {
		require.NoError(t, db.UpdateNotificationTaskStatus(ctx, future.ID, models.TaskStatusFailed, "gave up", nil))
		failed, err := db.GetFailedNotificationTasks(ctx)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, future.ID, failed[0].ID)
	})
}
