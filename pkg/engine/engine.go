// Package engine wires the KV backend, the two topologies, the op
// processor and the document log behind a single Open entry point, and
// answers the public query surface (BalanceOn, BalancesOn,
// BalancesForAll, ReportForStore, ReportForGoods) by composing
// checkpoint reads with ordered-topology scans through the aggregation
// engine.
package engine

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/cuemby/warehouse/pkg/aggregation"
	"github.com/cuemby/warehouse/pkg/checkpoint"
	"github.com/cuemby/warehouse/pkg/doclog"
	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/log"
	"github.com/cuemby/warehouse/pkg/metrics"
	"github.com/cuemby/warehouse/pkg/opprocessor"
	"github.com/cuemby/warehouse/pkg/ordered"
	"github.com/cuemby/warehouse/pkg/types"
)

// Engine is the in-process API surface of the warehouse core.
type Engine struct {
	db          *kv.DB
	ordered     *ordered.Topology
	checkpoints *checkpoint.Topology
	opproc      *opprocessor.Processor
	docs        *doclog.Store
}

// Open creates (or reuses) dataDir as the engine's on-disk state: a
// bbolt database for the topologies and a documents/ subtree for the
// document log. No environment variables are consulted; all
// configuration is this one call.
func Open(dataDir string) (*Engine, error) {
	db, err := kv.Open(dataDir)
	if err != nil {
		return nil, err
	}

	docs, err := doclog.Open(filepath.Join(dataDir, "documents"), db)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		db:          db,
		ordered:     ordered.New(db),
		checkpoints: checkpoint.New(db),
		opproc:      opprocessor.New(db),
		docs:        docs,
	}
	log.Logger.Info().Str("data_dir", dataDir).Msg("warehouse engine opened")
	return e, nil
}

// Close releases the backing database handle.
func (e *Engine) Close() error {
	return e.db.Close()
}

// RecordOps is the sole write entry point for raw OpMutations, exposed
// directly for callers that bypass the document log.
func (e *Engine) RecordOps(mutations []types.OpMutation) ([]types.OpMutation, error) {
	return e.opproc.RecordOps(mutations)
}

// PutDocument writes a new version of a document and projects its
// goods lines into OpMutations recorded against the op processor. date
// is the operation date (may backdate); writtenAt is the real wall
// clock used to version the file and, for a new document, mint its id.
func (e *Engine) PutDocument(ctx []string, id string, date, writtenAt time.Time, body json.RawMessage) (*types.Document, []types.OpMutation, error) {
	newDoc, prevDoc, err := e.docs.Put(ctx, id, date, writtenAt, body)
	if err != nil {
		return nil, nil, err
	}
	return e.projectAndRecord(prevDoc, newDoc)
}

// DeleteDocument logically tombstones a document and records the
// OpMutations that removes its previously-live lines.
func (e *Engine) DeleteDocument(id string, date time.Time) (*types.Document, []types.OpMutation, error) {
	tombstone, prevDoc, err := e.docs.Delete(id, date)
	if err != nil {
		return nil, nil, err
	}
	return e.projectAndRecord(prevDoc, tombstone)
}

func (e *Engine) projectAndRecord(prevDoc, newDoc *types.Document) (*types.Document, []types.OpMutation, error) {
	mutations, err := doclog.Project(prevDoc, newDoc)
	if err != nil {
		return nil, nil, err
	}
	results, err := e.opproc.RecordOps(mutations)
	if err != nil {
		return nil, nil, err
	}
	return newDoc, results, nil
}

// GetDocument resolves a document's latest version.
func (e *Engine) GetDocument(id string) (*types.Document, error) {
	return e.docs.Get(id)
}

// ListDocuments returns the latest version of every document under ctx.
func (e *Engine) ListDocuments(ctx []string) ([]types.Document, error) {
	return e.docs.List(ctx)
}

// inclusiveTill nudges a query's upper bound one second past date so a
// [from,till) scan includes operations stamped exactly at date — keys
// only carry second resolution, so one second is the smallest true step.
func inclusiveTill(date time.Time) time.Time {
	return date.Add(time.Second)
}

// replayFrom is the ordered-topology scan start paired with the
// checkpoint at boundary: the checkpoint sums every op with ts <=
// boundary, so the replay picks up one second past it.
func replayFrom(boundary time.Time) time.Time {
	return boundary.Add(time.Second)
}

func splitOpsAt(ops []types.Op, at time.Time) (before, after []types.Op) {
	for _, op := range ops {
		if op.Date.Before(at) {
			before = append(before, op)
		} else {
			after = append(after, op)
		}
	}
	return before, after
}

// windowReport replays ops up to from to resolve the true opening
// balance at from (checkpoints only resolve to a month boundary, which
// may be well before from), then aggregates [from,till) from there.
func windowReport(opening []aggregation.OpeningBalance, ops []types.Op, boundary, from, till time.Time) aggregation.Report {
	before, after := splitOpsAt(ops, from)
	replay := aggregation.Aggregate(opening, before, boundary, from)
	atFrom := make([]aggregation.OpeningBalance, 0, len(replay.Items))
	for _, it := range replay.Items {
		atFrom = append(atFrom, aggregation.OpeningBalance{Key: it.Key, Balance: it.Close})
	}
	return aggregation.Aggregate(atFrom, after, from, till)
}

func openingFromCheckpoints(entries []checkpoint.BalanceEntry) []aggregation.OpeningBalance {
	out := make([]aggregation.OpeningBalance, 0, len(entries))
	for _, e := range entries {
		out = append(out, aggregation.OpeningBalance{
			Key:     aggregation.Key{Store: e.Store, Goods: e.Goods, Batch: e.Batch},
			Balance: e.BalanceForGoods,
		})
	}
	return out
}

// BalanceOn returns the projected balance for (store, goods, batch) as
// of date. The empty batch means "across every lot": the result sums
// all batches the goods is held under in this store.
func (e *Engine) BalanceOn(store types.Store, goods types.Goods, batch types.Batch, date time.Time) (types.BalanceForGoods, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "balance_on")

	boundary, err := e.checkpoints.ResolvedDate(date)
	if err != nil {
		return types.BalanceForGoods{}, err
	}

	var opening []aggregation.OpeningBalance
	if batch.IsEmpty() {
		entries, err := e.checkpoints.CheckpointsForGoods(store, goods, date)
		if err != nil {
			return types.BalanceForGoods{}, err
		}
		opening = openingFromCheckpoints(entries)
	} else {
		bal, err := e.checkpoints.GetBalance(store, goods, batch, date)
		if err != nil {
			return types.BalanceForGoods{}, err
		}
		opening = []aggregation.OpeningBalance{{
			Key:     aggregation.Key{Store: store, Goods: goods, Batch: batch},
			Balance: bal,
		}}
	}

	ops, err := e.ordered.OpsForGoods(store, goods, replayFrom(boundary), inclusiveTill(date))
	if err != nil {
		return types.BalanceForGoods{}, err
	}
	ops = filterByBatch(ops, batch)

	report := windowReport(opening, ops, boundary, date, inclusiveTill(date))
	total := types.ZeroBalance()
	for _, it := range report.Items {
		total = total.Add(it.Close)
	}
	return total, nil
}

func batchEqual(a, b types.Batch) bool {
	return a.ID == b.ID && a.Date.Equal(b.Date)
}

func filterByBatch(ops []types.Op, batch types.Batch) []types.Op {
	if batch.IsEmpty() {
		return ops
	}
	out := make([]types.Op, 0, len(ops))
	for _, op := range ops {
		if batchEqual(op.Batch, batch) {
			out = append(out, op)
		}
	}
	return out
}

// GoodsBatch identifies one (goods, batch) line within a store.
type GoodsBatch struct {
	Goods types.Goods
	Batch types.Batch
}

// BalancesOn returns every (goods, batch) balance for store as of date.
func (e *Engine) BalancesOn(store types.Store, date time.Time) (map[GoodsBatch]types.BalanceForGoods, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "balances_on")

	boundary, err := e.checkpoints.ResolvedDate(date)
	if err != nil {
		return nil, err
	}
	entries, err := e.checkpoints.CheckpointsForStore(store, date)
	if err != nil {
		return nil, err
	}
	ops, err := e.ordered.OpsForStore(store, replayFrom(boundary), inclusiveTill(date))
	if err != nil {
		return nil, err
	}

	report := windowReport(openingFromCheckpoints(entries), ops, boundary, date, inclusiveTill(date))
	out := make(map[GoodsBatch]types.BalanceForGoods, len(report.Items))
	for _, it := range report.Items {
		out[GoodsBatch{Goods: it.Key.Goods, Batch: it.Key.Batch}] = it.Close
	}
	return out, nil
}

// BalancesForAll returns every (store, goods, batch) balance as of date.
func (e *Engine) BalancesForAll(date time.Time) (map[types.Store]map[GoodsBatch]types.BalanceForGoods, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "balances_for_all")

	boundary, err := e.checkpoints.ResolvedDate(date)
	if err != nil {
		return nil, err
	}
	entries, err := e.checkpoints.CheckpointsForAll(date)
	if err != nil {
		return nil, err
	}
	ops, err := e.ordered.OpsForAll(replayFrom(boundary), inclusiveTill(date))
	if err != nil {
		return nil, err
	}

	report := windowReport(openingFromCheckpoints(entries), ops, boundary, date, inclusiveTill(date))
	out := make(map[types.Store]map[GoodsBatch]types.BalanceForGoods)
	for _, it := range report.Items {
		byGoods, ok := out[it.Key.Store]
		if !ok {
			byGoods = make(map[GoodsBatch]types.BalanceForGoods)
			out[it.Key.Store] = byGoods
		}
		byGoods[GoodsBatch{Goods: it.Key.Goods, Batch: it.Key.Batch}] = it.Close
	}
	return out, nil
}

// ReportForStore rolls up open/receive/issue/close across every goods
// and batch a store touched in [from, till).
func (e *Engine) ReportForStore(store types.Store, from, till time.Time) (aggregation.Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "report_for_store")

	boundary, err := e.checkpoints.ResolvedDate(from)
	if err != nil {
		return aggregation.Report{}, err
	}
	entries, err := e.checkpoints.CheckpointsForStore(store, from)
	if err != nil {
		return aggregation.Report{}, err
	}
	ops, err := e.ordered.OpsForStore(store, replayFrom(boundary), till)
	if err != nil {
		return aggregation.Report{}, err
	}
	return windowReport(openingFromCheckpoints(entries), ops, boundary, from, till), nil
}

// ReportForGoods rolls up open/receive/issue/close for one (store,
// goods) pair over [from, till). A non-empty batch narrows the report
// to that single lot; the empty batch reports every lot for the goods.
func (e *Engine) ReportForGoods(store types.Store, goods types.Goods, batch types.Batch, from, till time.Time) (aggregation.Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "report_for_goods")

	boundary, err := e.checkpoints.ResolvedDate(from)
	if err != nil {
		return aggregation.Report{}, err
	}
	entries, err := e.checkpoints.CheckpointsForGoods(store, goods, from)
	if err != nil {
		return aggregation.Report{}, err
	}
	if !batch.IsEmpty() {
		filtered := make([]checkpoint.BalanceEntry, 0, len(entries))
		for _, e := range entries {
			if batchEqual(e.Batch, batch) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	ops, err := e.ordered.OpsForGoods(store, goods, replayFrom(boundary), till)
	if err != nil {
		return aggregation.Report{}, err
	}
	ops = filterByBatch(ops, batch)
	return windowReport(openingFromCheckpoints(entries), ops, boundary, from, till), nil
}
