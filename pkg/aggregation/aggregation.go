// Package aggregation turns an opening balance plus an ordered run of
// ops into open/receive/issue/close rollups. It is pure: no topology,
// no KV, no clock reads beyond the timestamps already on the Ops
// passed in. That purity is what makes it idempotent and splittable —
// aggregating [t0,t2) directly must equal aggregating [t0,t1) then
// feeding its Close back in as the opening balance for [t1,t2).
package aggregation

import (
	"time"

	"github.com/cuemby/warehouse/pkg/types"
)

// Key identifies one (store, goods, batch) line in a Report.
type Key struct {
	Store types.Store
	Goods types.Goods
	Batch types.Batch
}

// Item is the open/receive/issue/close rollup for one Key over a
// report window.
type Item struct {
	Key     Key
	Open    types.BalanceForGoods
	Receive types.BalanceForGoods
	Issue   types.BalanceForGoods
	Close   types.BalanceForGoods
}

// Report is the rollup for a window, one Item per (store, goods,
// batch) that had an opening balance or any activity in the window.
type Report struct {
	From  time.Time
	Till  time.Time
	Items []Item
}

// OpeningBalance is one (key, balance) pair the caller read from the
// checkpoint topology to seed aggregation.
type OpeningBalance struct {
	Key     Key
	Balance types.BalanceForGoods
}

// Aggregate folds ops (assumed already sorted by timestamp ascending,
// as the ordered topology yields them) onto the opening balances and
// produces one Item per key touched. Ops outside [from, till) are
// ignored rather than erroring, so callers can pass a slightly wider
// slice without re-querying.
func Aggregate(opening []OpeningBalance, ops []types.Op, from, till time.Time) Report {
	items := make(map[Key]*Item, len(opening))
	order := make([]Key, 0, len(opening))

	get := func(k Key) *Item {
		if it, ok := items[k]; ok {
			return it
		}
		it := &Item{Key: k, Open: types.ZeroBalance(), Close: types.ZeroBalance()}
		items[k] = it
		order = append(order, k)
		return it
	}

	for _, ob := range opening {
		it := get(ob.Key)
		it.Open = ob.Balance
		it.Close = ob.Balance
	}

	for _, op := range ops {
		if op.Date.Before(from) || !op.Date.Before(till) {
			continue
		}
		k := Key{Store: op.Store, Goods: op.Goods, Batch: op.Batch}
		it := get(k)
		delta := op.Operation.Delta()
		if op.Operation.IsReceive() {
			it.Receive = it.Receive.Add(delta)
		} else {
			it.Issue = it.Issue.Add(delta)
		}
		it.Close = it.Close.Add(delta)
	}

	result := make([]Item, 0, len(order))
	for _, k := range order {
		result = append(result, *items[k])
	}
	return Report{From: from, Till: till, Items: result}
}

// RollupByGoods collapses a Report's per-batch items into one item per
// (store, goods), summing across batches and discarding the batch
// coordinate — the shape report_for_store needs.
func RollupByGoods(r Report) []Item {
	type goodsKey struct {
		Store types.Store
		Goods types.Goods
	}
	byGoods := make(map[goodsKey]*Item)
	var order []goodsKey

	for _, it := range r.Items {
		gk := goodsKey{Store: it.Key.Store, Goods: it.Key.Goods}
		agg, ok := byGoods[gk]
		if !ok {
			agg = &Item{Key: Key{Store: it.Key.Store, Goods: it.Key.Goods}}
			byGoods[gk] = agg
			order = append(order, gk)
		}
		agg.Open = agg.Open.Add(it.Open)
		agg.Receive = agg.Receive.Add(it.Receive)
		agg.Issue = agg.Issue.Add(it.Issue)
		agg.Close = agg.Close.Add(it.Close)
	}

	out := make([]Item, 0, len(order))
	for _, gk := range order {
		out = append(out, *byGoods[gk])
	}
	return out
}

// RollupByStore collapses a Report's items into one total per store,
// discarding the goods and batch coordinates.
func RollupByStore(r Report) []Item {
	byStore := make(map[types.Store]*Item)
	var order []types.Store

	for _, it := range r.Items {
		agg, ok := byStore[it.Key.Store]
		if !ok {
			agg = &Item{Key: Key{Store: it.Key.Store}}
			byStore[it.Key.Store] = agg
			order = append(order, it.Key.Store)
		}
		agg.Open = agg.Open.Add(it.Open)
		agg.Receive = agg.Receive.Add(it.Receive)
		agg.Issue = agg.Issue.Add(it.Issue)
		agg.Close = agg.Close.Add(it.Close)
	}

	out := make([]Item, 0, len(order))
	for _, s := range order {
		out = append(out, *byStore[s])
	}
	return out
}
