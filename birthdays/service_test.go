package birthdays_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-extension-auth/birthdays"
)

const testUserID = "u1"

func setupService(t *testing.T, now time.Time) *birthdays.Service {
	t.Helper()

	service, err := birthdays.NewService(birthdays.NewInMemoryRepo(),
		birthdays.WithNowTime(func() time.Time { return now }))
	require.NoError(t, err)
	return service
}

func TestAddAppliesDefaults(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	service := setupService(t, now)

	record, err := service.Add(context.Background(), testUserID, birthdays.CreateBirthday{
		Name: "Ann",
		Date: "1990-09-05",
	})
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	require.Equal(t, birthdays.DefaultReminderDays, record.ReminderDays)
	require.Equal(t, now, record.CreatedAt)
	require.Equal(t, now, record.UpdatedAt)
}

func TestAddValidation(t *testing.T) {
	service := setupService(t, time.Now())

	_, err := service.Add(context.Background(), "", birthdays.CreateBirthday{Name: "Ann", Date: "1990-09-05"})
	require.ErrorIs(t, err, birthdays.ErrNotAuthenticated)

	_, err = service.Add(context.Background(), testUserID, birthdays.CreateBirthday{Date: "1990-09-05"})
	require.Error(t, err)

	_, err = service.Add(context.Background(), testUserID, birthdays.CreateBirthday{Name: "Ann", Date: "05/09/1990"})
	require.Error(t, err)
}

func TestListNewestFirstWithCountdown(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	repo := birthdays.NewInMemoryRepo()

	current := now
	service, err := birthdays.NewService(repo,
		birthdays.WithNowTime(func() time.Time { return current }))
	require.NoError(t, err)

	_, err = service.Add(context.Background(), testUserID, birthdays.CreateBirthday{Name: "Older", Date: "1990-12-25"})
	require.NoError(t, err)

	current = now.Add(time.Minute)
	_, err = service.Add(context.Background(), testUserID, birthdays.CreateBirthday{Name: "Newer", Date: "1990-09-03", ReminderDays: 5})
	require.NoError(t, err)

	current = now
	list, err := service.List(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Newer", list[0].Name)
	require.Equal(t, "Older", list[1].Name)

	// Sep 3 is three days out and inside the 5-day reminder window.
	require.Equal(t, 3, list[0].DaysUntil)
	require.True(t, list[0].IsSoon)
	require.False(t, list[0].IsToday)

	// Dec 25 is far outside the default window.
	require.False(t, list[1].IsSoon)
}

func TestUpdatePartial(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	service := setupService(t, now)

	record, err := service.Add(context.Background(), testUserID, birthdays.CreateBirthday{
		Name:  "Ann",
		Date:  "1990-09-05",
		Notes: "cake",
	})
	require.NoError(t, err)

	newName := "Ann Example"
	updated, err := service.Update(context.Background(), testUserID, record.ID, birthdays.UpdateBirthday{Name: &newName})
	require.NoError(t, err)
	require.Equal(t, newName, updated.Name)
	require.Equal(t, "1990-09-05", updated.Date)
	require.Equal(t, "cake", updated.Notes)

	badDate := "not-a-date"
	_, err = service.Update(context.Background(), testUserID, record.ID, birthdays.UpdateBirthday{Date: &badDate})
	require.Error(t, err)

	_, err = service.Update(context.Background(), testUserID, "missing", birthdays.UpdateBirthday{Name: &newName})
	require.ErrorIs(t, err, birthdays.ErrNotFound)
}

func TestRemove(t *testing.T) {
	service := setupService(t, time.Now())

	record, err := service.Add(context.Background(), testUserID, birthdays.CreateBirthday{Name: "Ann", Date: "1990-09-05"})
	require.NoError(t, err)

	require.NoError(t, service.Remove(context.Background(), testUserID, record.ID))
	require.ErrorIs(t, service.Remove(context.Background(), testUserID, record.ID), birthdays.ErrNotFound)

	list, err := service.List(context.Background(), testUserID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRecordsAreScopedToUser(t *testing.T) {
	service := setupService(t, time.Now())

	_, err := service.Add(context.Background(), testUserID, birthdays.CreateBirthday{Name: "Ann", Date: "1990-09-05"})
	require.NoError(t, err)

	other, err := service.List(context.Background(), "u2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)

	require.Equal(t, 0, birthdays.DaysUntil("1990-08-31", now))
	require.Equal(t, 1, birthdays.DaysUntil("1990-09-01", now))

	// A date earlier in the year rolls to the next occurrence.
	require.Equal(t, 181, birthdays.DaysUntil("1990-02-28", now))

	// Feb 29 normalizes to Mar 1 in the non-leap 2027.
	require.Equal(t, 182, birthdays.DaysUntil("1992-02-29", now))

	require.Equal(t, 0, birthdays.DaysUntil("garbage", now))
}
