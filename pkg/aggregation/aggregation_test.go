package aggregation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warehouse/pkg/types"
)

var (
	store1 = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	goods1 = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	batchA = types.Batch{ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Date: time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC)}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func opAt(date time.Time, internal types.InternalOperation) types.Op {
	return types.Op{ID: uuid.New(), Date: date, Store: store1, Goods: goods1, Batch: batchA, Operation: internal}
}

func TestAggregateReceiptsAndIssues(t *testing.T) {
	ops := []types.Op{
		opAt(day(2022, 5, 27), types.Receive(types.NewQty(10), types.NewCost(50))),
		opAt(day(2022, 5, 28), types.Issue(types.NewQty(5), types.NewCost(25), types.Auto)),
		opAt(day(2022, 5, 30), types.Receive(types.NewQty(2), types.NewCost(10))),
	}
	from, till := day(2022, 5, 1), day(2022, 6, 1)
	report := Aggregate(nil, ops, from, till)

	require.Len(t, report.Items, 1)
	item := report.Items[0]
	assert.Equal(t, 0, item.Open.Qty.Cmp(types.NewQty(0)))
	assert.Equal(t, 0, item.Receive.Qty.Cmp(types.NewQty(12)))
	assert.Equal(t, 0, item.Issue.Qty.Cmp(types.NewQty(-5)))
	assert.Equal(t, 0, item.Close.Qty.Cmp(types.NewQty(7)))
	assert.Equal(t, 0, item.Close.Cost.Cmp(types.NewCost(35)))
}

func TestAggregateIdempotent(t *testing.T) {
	ops := []types.Op{
		opAt(day(2022, 5, 27), types.Receive(types.NewQty(10), types.NewCost(50))),
		opAt(day(2022, 5, 28), types.Issue(types.NewQty(5), types.NewCost(25), types.Auto)),
	}
	from, till := day(2022, 5, 1), day(2022, 6, 1)

	r1 := Aggregate(nil, ops, from, till)
	r2 := Aggregate(nil, ops, from, till)
	require.Len(t, r1.Items, 1)
	require.Len(t, r2.Items, 1)
	assert.Equal(t, 0, r1.Items[0].Close.Qty.Cmp(r2.Items[0].Close.Qty))
	assert.Equal(t, 0, r1.Items[0].Close.Cost.Cmp(r2.Items[0].Close.Cost))
}

func TestAggregateAssociativeAcrossSplit(t *testing.T) {
	ops := []types.Op{
		opAt(day(2022, 5, 27), types.Receive(types.NewQty(10), types.NewCost(50))),
		opAt(day(2022, 5, 28), types.Issue(types.NewQty(5), types.NewCost(25), types.Auto)),
		opAt(day(2022, 5, 30), types.Receive(types.NewQty(2), types.NewCost(10))),
	}
	from, till := day(2022, 5, 1), day(2022, 6, 1)
	splitAt := day(2022, 5, 29)

	whole := Aggregate(nil, ops, from, till)

	var before, after []types.Op
	for _, op := range ops {
		if op.Date.Before(splitAt) {
			before = append(before, op)
		} else {
			after = append(after, op)
		}
	}
	firstHalf := Aggregate(nil, before, from, splitAt)
	opening := make([]OpeningBalance, 0, len(firstHalf.Items))
	for _, it := range firstHalf.Items {
		opening = append(opening, OpeningBalance{Key: it.Key, Balance: it.Close})
	}
	secondHalf := Aggregate(opening, after, splitAt, till)

	require.Len(t, whole.Items, 1)
	require.Len(t, secondHalf.Items, 1)
	assert.Equal(t, 0, whole.Items[0].Close.Qty.Cmp(secondHalf.Items[0].Close.Qty))
	assert.Equal(t, 0, whole.Items[0].Close.Cost.Cmp(secondHalf.Items[0].Close.Cost))
}

func TestAggregateOpeningBalanceCarriesForward(t *testing.T) {
	opening := []OpeningBalance{{
		Key:     Key{Store: store1, Goods: goods1, Batch: batchA},
		Balance: types.BalanceForGoods{Qty: types.NewQty(5), Cost: types.NewCost(50)},
	}}
	ops := []types.Op{opAt(day(2022, 6, 5), types.Issue(types.NewQty(1), types.NewCost(10), types.Auto))}

	report := Aggregate(opening, ops, day(2022, 6, 1), day(2022, 7, 1))
	require.Len(t, report.Items, 1)
	item := report.Items[0]
	assert.Equal(t, 0, item.Open.Qty.Cmp(types.NewQty(5)))
	assert.Equal(t, 0, item.Close.Qty.Cmp(types.NewQty(4)))
}

func TestAggregateIgnoresOpsOutsideWindow(t *testing.T) {
	ops := []types.Op{
		opAt(day(2022, 4, 30), types.Receive(types.NewQty(100), types.NewCost(1000))),
		opAt(day(2022, 7, 1), types.Receive(types.NewQty(100), types.NewCost(1000))),
	}
	report := Aggregate(nil, ops, day(2022, 5, 1), day(2022, 6, 1))
	assert.Empty(t, report.Items)
}

func TestRollupByStoreSumsAcrossGoods(t *testing.T) {
	goods2 := uuid.New()
	report := Report{Items: []Item{
		{Key: Key{Store: store1, Goods: goods1, Batch: batchA}, Close: types.BalanceForGoods{Qty: types.NewQty(3), Cost: types.NewCost(30)}},
		{Key: Key{Store: store1, Goods: goods2}, Close: types.BalanceForGoods{Qty: types.NewQty(4), Cost: types.NewCost(12)}},
	}}

	totals := RollupByStore(report)
	require.Len(t, totals, 1)
	assert.Equal(t, store1, totals[0].Key.Store)
	assert.Equal(t, 0, totals[0].Close.Qty.Cmp(types.NewQty(7)))
	assert.Equal(t, 0, totals[0].Close.Cost.Cmp(types.NewCost(42)))
}

func TestRollupByGoodsSumsAcrossBatches(t *testing.T) {
	batchB := types.Batch{ID: uuid.New(), Date: day(2022, 5, 29)}
	report := Report{Items: []Item{
		{Key: Key{Store: store1, Goods: goods1, Batch: batchA}, Close: types.BalanceForGoods{Qty: types.NewQty(3), Cost: types.NewCost(30)}},
		{Key: Key{Store: store1, Goods: goods1, Batch: batchB}, Close: types.BalanceForGoods{Qty: types.NewQty(2), Cost: types.NewCost(20)}},
	}}

	rolled := RollupByGoods(report)
	require.Len(t, rolled, 1)
	assert.Equal(t, 0, rolled[0].Close.Qty.Cmp(types.NewQty(5)))
	assert.Equal(t, 0, rolled[0].Close.Cost.Cmp(types.NewCost(50)))
}
