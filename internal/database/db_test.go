package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kdsboard/internal/models"
)

var morning = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(table int64, status models.Status, created time.Time) *OrderRecord {
	return &OrderRecord{
		TableID:   table,
		Total:     25,
		Status:    string(status),
		CreatedAt: created,
		Items: []ItemRecord{
			{CenterID: 1, Quantity: 2, Name: "Pizza"},
			{CenterID: 2, Quantity: 1, Name: "Soda", Note: "no ice"},
		},
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	store := openStore(t)

	rec := newRecord(5, "", morning)
	require.NoError(t, store.CreateOrder(rec))
	assert.NotZero(t, rec.ID)

	got, err := store.GetOrder(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusPending), got.Status)
	assert.Len(t, got.Items, 2)
	assert.True(t, got.CreatedAt.Equal(morning))

	_, err = store.GetOrder(999)
	assert.Equal(t, ErrNotFound, err)
}

func TestToOrderFiltersByCenter(t *testing.T) {
	rec := newRecord(5, models.StatusPaymentDue, morning)
	rec.ID = 42

	kitchen := rec.ToOrder(1)
	assert.Equal(t, int64(42), kitchen.ID)
	assert.Equal(t, []models.LineItem{{Quantity: 2, Name: "Pizza"}}, kitchen.Items)
	assert.Equal(t, 25.0, kitchen.AmountDue)

	all := rec.ToOrder(0)
	assert.Len(t, all.Items, 2)

	assert.Equal(t, []int64{1, 2}, rec.Centers())
}

func TestListByStatuses(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.CreateOrder(newRecord(1, models.StatusInPreparation, morning.Add(time.Minute))))
	require.NoError(t, store.CreateOrder(newRecord(2, models.StatusPending, morning)))
	require.NoError(t, store.CreateOrder(newRecord(3, models.StatusCompleted, morning)))

	recs, err := store.ListByStatuses(models.StatusPending, models.StatusInPreparation)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].TableID, "oldest first")
	assert.Equal(t, int64(1), recs[1].TableID)
	assert.Len(t, recs[0].Items, 2)
}

func TestCompletedSince(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.CreateOrder(newRecord(1, models.StatusReadyForPickup, morning.Add(-24*time.Hour))))
	require.NoError(t, store.CreateOrder(newRecord(2, models.StatusReadyForPickup, morning)))
	require.NoError(t, store.CreateOrder(newRecord(3, models.StatusPending, morning)))

	recs, err := store.CompletedSince(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].TableID)
}

func TestDelayed(t *testing.T) {
	store := openStore(t)
	for i := 0; i < 7; i++ {
		require.NoError(t, store.CreateOrder(newRecord(int64(i+1), models.StatusPending, morning.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.CreateOrder(newRecord(99, models.StatusReadyForPickup, morning)))

	recs, err := store.Delayed(morning.Add(time.Hour), 5)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, int64(1), recs[0].TableID)

	recs, err = store.Delayed(morning.Add(90*time.Second), 5)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestUpdateStatus(t *testing.T) {
	store := openStore(t)
	rec := newRecord(5, models.StatusPending, morning)
	require.NoError(t, store.CreateOrder(rec))

	require.NoError(t, store.UpdateStatus(rec.ID, models.StatusReadyForPickup))
	got, err := store.GetOrder(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusReadyForPickup), got.Status)

	assert.Equal(t, ErrNotFound, store.UpdateStatus(999, models.StatusCompleted))

	require.NoError(t, store.SetCustomerAlias(rec.ID, "Ana"))
	got, _ = store.GetOrder(rec.ID)
	assert.Equal(t, "Ana", got.CustomerAlias)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
