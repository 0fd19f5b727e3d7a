package database

import (
	"context"
	"testing"

	"tintbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaffDirectory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seed := []*models.Staff{
		{ID: "B", Name: "Boris", CanTakeAppointments: true, IsActive: true},
		{ID: "A", Name: "Anna", Role: models.RoleStaff, CanTakeAppointments: true, IsActive: true},
		{ID: "M", Name: "Maria", Role: models.RoleManager, CanTakeAppointments: true, IsActive: true},
		{ID: "C", Name: "Chen", CanTakeAppointments: false, IsActive: true},
		{ID: "D", Name: "Dana", CanTakeAppointments: true, IsActive: false},
	}
	for _, s := range seed {
		require.NoError(t, db.UpsertStaff(ctx, s))
	}

	t.Run("Eligible", func(t *testing.T) {
		eligible, err := db.ListStaffEligibleForAppointments(ctx)
		require.NoError(t, err)
		require.Len(t, eligible, 2)
		assert.Equal(t, "A", eligible[0].ID)
		assert.Equal(t, "B", eligible[1].ID)
		assert.Equal(t, models.RoleStaff, eligible[1].Role)
	})

	t.Run("UpsertUpdates", func(t *testing.T) {
		require.NoError(t, db.UpsertStaff(ctx, &models.Staff{ID: "C", Name: "Chen", CanTakeAppointments: true, IsActive: true, Phone: "+100"}))
		s, err := db.GetStaff(ctx, "C")
		require.NoError(t, err)
		assert.True(t, s.CanTakeAppointments)
		assert.Equal(t, "+100", s.Phone)

		eligible, err := db.ListStaffEligibleForAppointments(ctx)
		require.NoError(t, err)
		assert.Len(t, eligible, 3)
	})

	t.Run("ListAll", func(t *testing.T) {
		all, err := db.ListStaff(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.GetStaff(ctx, "nobody")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("EmptyID", func(t *testing.T) {
		assert.Error(t, db.UpsertStaff(ctx, &models.Staff{Name: "x"}))
	})
}
