package checkpoint

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/types"
)

func openTestDB(t *testing.T) *kv.DB {
	t.Helper()
	db, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var (
	store1 = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	goods1 = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	batch1 = types.Batch{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Date: time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC)}
)

func TestFirstDayOfMonthAndNextMonth(t *testing.T) {
	d := time.Date(2022, 5, 27, 14, 30, 0, 0, time.UTC)
	assert.True(t, FirstDayOfMonth(d).Equal(time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, NextMonth(FirstDayOfMonth(d)).Equal(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)))

	dec := time.Date(2022, 12, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, NextMonth(FirstDayOfMonth(dec)).Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestBoundaryForAssignsBoundaryInstantToClosingMonth(t *testing.T) {
	mid := time.Date(2022, 5, 27, 14, 30, 0, 0, time.UTC)
	assert.True(t, BoundaryFor(mid).Equal(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)))

	exact := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, BoundaryFor(exact).Equal(exact), "an op at exactly a boundary belongs to the month closing there")
}

func TestGetSetBalance(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	boundary := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	bal := types.BalanceForGoods{Qty: types.NewQty(7), Cost: types.NewCost(35)}

	b, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetBalanceInBatch(b, store1, goods1, batch1, boundary, bal))
	require.NoError(t, SetLatestCheckpointDateInBatch(b, boundary))
	require.NoError(t, b.Commit())

	got, err := topo.GetBalance(store1, goods1, batch1, time.Date(2022, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Qty.Cmp(types.NewQty(7)))
}

func TestGetBalanceAbsentIsZero(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	bal, err := topo.GetBalance(store1, goods1, batch1, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestLatestCheckpointDateMonotonic(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	date, err := topo.GetLatestCheckpointDate()
	require.NoError(t, err)
	assert.True(t, date.Equal(time.Unix(0, 0).UTC()))

	later := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetLatestCheckpointDateInBatch(b, later))
	require.NoError(t, b.Commit())

	date, err = topo.GetLatestCheckpointDate()
	require.NoError(t, err)
	assert.True(t, date.Equal(later))

	earlier := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	b2, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetLatestCheckpointDateInBatch(b2, earlier))
	require.NoError(t, b2.Commit())

	date, err = topo.GetLatestCheckpointDate()
	require.NoError(t, err)
	assert.True(t, date.Equal(later), "watermark must never rewind")
}

func TestResolvedDateDegradesToLatestPersisted(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	latest := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetLatestCheckpointDateInBatch(b, latest))
	require.NoError(t, b.Commit())

	resolved, err := topo.ResolvedDate(time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, resolved.Equal(latest))

	resolved, err = topo.ResolvedDate(time.Date(2022, 5, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, resolved.Equal(time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestBalanceAtBoundaryExistsInBatch(t *testing.T) {
	db := openTestDB(t)

	boundary := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	bal := types.BalanceForGoods{Qty: types.NewQty(7), Cost: types.NewCost(35)}

	b, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetBalanceInBatch(b, store1, goods1, batch1, boundary, bal))

	got, known, err := BalanceAtBoundaryExistsInBatch(b, store1, goods1, batch1, boundary)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, 0, got.Qty.Cmp(types.NewQty(7)))

	_, known, err = BalanceAtBoundaryExistsInBatch(b, store1, goods1, batch1, time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, known, "no checkpoint was ever written at this boundary")
	require.NoError(t, b.Rollback())
}

func TestCheckpointsAtBoundaryInBatch(t *testing.T) {
	db := openTestDB(t)

	boundary := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	store2 := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	goods2 := uuid.MustParse("66666666-6666-6666-6666-666666666666")

	b, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetBalanceInBatch(b, store1, goods1, batch1, boundary, types.BalanceForGoods{Qty: types.NewQty(7), Cost: types.NewCost(35)}))
	require.NoError(t, SetBalanceInBatch(b, store2, goods2, batch1, boundary, types.BalanceForGoods{Qty: types.NewQty(4), Cost: types.NewCost(40)}))
	require.NoError(t, SetBalanceInBatch(b, store1, goods1, batch1, time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC), types.BalanceForGoods{Qty: types.NewQty(9), Cost: types.NewCost(45)}))

	entries, err := CheckpointsAtBoundaryInBatch(b, boundary)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only entries at exactly boundary, across every tuple")
	require.NoError(t, b.Rollback())
}

func TestCheckpointsForGoodsScan(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	boundary := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	batch2 := types.Batch{ID: uuid.New(), Date: time.Date(2022, 5, 29, 0, 0, 0, 0, time.UTC)}

	b, err := db.NewBatch()
	require.NoError(t, err)
	require.NoError(t, SetBalanceInBatch(b, store1, goods1, batch1, boundary, types.BalanceForGoods{Qty: types.NewQty(7), Cost: types.NewCost(35)}))
	require.NoError(t, SetBalanceInBatch(b, store1, goods1, batch2, boundary, types.BalanceForGoods{Qty: types.NewQty(3), Cost: types.NewCost(15)}))
	require.NoError(t, SetLatestCheckpointDateInBatch(b, boundary))
	require.NoError(t, b.Commit())

	entries, err := topo.CheckpointsForGoods(store1, goods1, time.Date(2022, 6, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
