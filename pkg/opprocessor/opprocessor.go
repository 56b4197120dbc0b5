// Package opprocessor implements record_ops, the sole write entrypoint
// for operations: it normalizes an OpMutation into insert/update/delete,
// resolves an issue with no batch hint by allocating FIFO against
// positive-balance batches (falling back to a Manual-mode negative
// issue for whatever remains unsatisfied), writes through the ordered
// topology, propagates the resulting balance delta forward, and keeps
// checkpoints current — all inside one atomic kv.Batch.
package opprocessor

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warehouse/pkg/aggregation"
	"github.com/cuemby/warehouse/pkg/checkpoint"
	"github.com/cuemby/warehouse/pkg/codec"
	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/log"
	"github.com/cuemby/warehouse/pkg/metrics"
	"github.com/cuemby/warehouse/pkg/ordered"
	"github.com/cuemby/warehouse/pkg/types"
	"github.com/cuemby/warehouse/pkg/wherr"
)

// maxCascadeMonths bounds the checkpoint cascade loop so a corrupt
// latest_checkpoint_date watermark can't spin forever.
const maxCascadeMonths = 1200

// Processor is the single writer for Op records.
type Processor struct {
	db     *kv.DB
	logger zerolog.Logger
}

// New wraps an opened kv.DB.
func New(db *kv.DB) *Processor {
	return &Processor{db: db, logger: log.WithComponent("opprocessor")}
}

// RecordOps applies a batch of mutations atomically and returns the
// mutations as actually recorded, each annotated with whatever
// dependent ops FIFO resolution generated.
func (p *Processor) RecordOps(mutations []types.OpMutation) ([]types.OpMutation, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RecordOpsDuration)

	b, err := p.db.NewBatch()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = b.Rollback()
		}
	}()

	results := make([]types.OpMutation, 0, len(mutations))
	for _, m := range mutations {
		out, err := applyOne(b, m)
		if err != nil {
			metrics.OpsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
			return nil, err
		}
		if out != nil {
			results = append(results, *out)
		}
	}

	if err := b.Commit(); err != nil {
		return nil, err
	}
	committed = true
	p.logger.Debug().Int("mutations", len(mutations)).Int("results", len(results)).Msg("recorded ops batch")
	return results, nil
}

func rejectReason(err error) string {
	switch {
	case wherr.Is(err, wherr.ErrInvalid):
		return "invalid"
	case wherr.Is(err, wherr.ErrNotFound):
		return "not_found"
	case wherr.Is(err, wherr.ErrCorrupt):
		return "corrupt"
	default:
		return "io"
	}
}

func applyOne(b *kv.Batch, m types.OpMutation) (*types.OpMutation, error) {
	switch m.Classify() {
	case types.CategoryNoop:
		return nil, nil
	case types.CategoryInsert:
		return insert(b, m)
	case types.CategoryDelete:
		if _, err := deleteOp(b, m); err != nil {
			return nil, err
		}
		result := m
		return &result, nil
	case types.CategoryUpdate:
		deleteMut := types.OpMutation{ID: m.ID, Date: m.Date, Store: m.Store, Goods: m.Goods, Batch: m.Batch, Before: m.Before}
		if _, err := deleteOp(b, deleteMut); err != nil {
			return nil, err
		}
		insertMut := types.OpMutation{ID: m.ID, Date: m.Date, Store: m.Store, Goods: m.Goods, Batch: m.Batch, After: m.After}
		return insert(b, insertMut)
	default:
		return nil, nil
	}
}

func insert(b *kv.Batch, m types.OpMutation) (*types.OpMutation, error) {
	if m.After.Qty.IsZero() {
		return nil, wherr.Invalid("op %s: qty must be non-zero", m.ID)
	}
	if m.After.Kind == types.KindIssue && !m.Batch.IsEmpty() && m.Batch.Date.After(m.Date) {
		return nil, wherr.Invalid("op %s: batch date %s is after op date %s", m.ID, m.Batch.Date, m.Date)
	}

	op := types.Op{
		ID:        m.ID,
		Date:      m.Date,
		Store:     m.Store,
		Goods:     m.Goods,
		Batch:     m.Batch,
		Operation: *m.After,
	}

	var dependents []types.Op
	if op.Operation.Kind == types.KindIssue && op.Batch.IsEmpty() {
		var err error
		dependents, err = resolveFIFO(b, &op)
		if err != nil {
			return nil, err
		}
	}

	if err := writeAndPropagate(b, op); err != nil {
		return nil, err
	}
	metrics.OpsRecordedTotal.WithLabelValues(op.Operation.Kind.String(), boolLabel(op.IsDependent)).Inc()
	if op.Operation.Mode == types.Manual && op.Operation.Kind == types.KindIssue && op.Operation.Qty.IsPositive() {
		metrics.NegativeBalanceIssuesTotal.Inc()
	}

	for _, dep := range dependents {
		if err := writeAndPropagate(b, dep); err != nil {
			return nil, err
		}
		metrics.OpsRecordedTotal.WithLabelValues(dep.Operation.Kind.String(), boolLabel(dep.IsDependent)).Inc()
		metrics.DependentOpsGenerated.Inc()
	}

	result := m
	result.Dependant = op.Dependant
	opLogger := log.WithOpID(op.ID.String())
	opLogger.Debug().
		Str("kind", op.Operation.Kind.String()).
		Int("dependents", len(dependents)).
		Msg("recorded op")
	return &result, nil
}

func deleteOp(b *kv.Batch, m types.OpMutation) (*types.Op, error) {
	probe := types.Op{ID: m.ID, Date: m.Date, Store: m.Store, Goods: m.Goods, Batch: m.Batch, Operation: *m.Before}
	rec, err := ordered.GetInBatch(b, probe)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, wherr.NotFound("op %s at %s", m.ID, m.Date)
	}

	for _, dep := range rec.Op.Dependant {
		depProbe := types.Op{
			ID:          rec.Op.ID,
			Date:        rec.Op.Date,
			Store:       dep.Store,
			Goods:       rec.Op.Goods,
			Batch:       dep.Batch,
			IsDependent: true,
			Operation:   sentinelByOrder(dep.OpOrder),
		}
		depRec, err := ordered.GetInBatch(b, depProbe)
		if err != nil {
			return nil, err
		}
		if depRec == nil {
			continue
		}
		if _, err := ordered.DeleteInBatch(b, depProbe); err != nil {
			return nil, err
		}
		if err := cascade(b, depRec.Op, depRec.Op.Operation.Delta().Neg()); err != nil {
			return nil, err
		}
	}

	if _, err := ordered.DeleteInBatch(b, probe); err != nil {
		return nil, err
	}
	if err := cascade(b, rec.Op, rec.Op.Operation.Delta().Neg()); err != nil {
		return nil, err
	}
	return &rec.Op, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func sentinelByOrder(order byte) types.InternalOperation {
	if order == 0x00 {
		return types.Receive(types.NewQty(0), types.NewCost(0))
	}
	return types.Issue(types.NewQty(0), types.NewCost(0), types.Auto)
}

// writeAndPropagate computes the running balance for op from the
// nearest checkpoint and any earlier records at its key, stores it,
// then cascades the resulting delta to every later record and
// checkpoint for the same (store, goods, batch).
func writeAndPropagate(b *kv.Batch, op types.Op) error {
	boundary, err := checkpoint.ResolvedDateInBatch(b, op.Date)
	if err != nil {
		return err
	}
	opening, err := checkpoint.GetBalanceAtBoundaryInBatch(b, op.Store, op.Goods, op.Batch, boundary)
	if err != nil {
		return err
	}

	prior, ok, err := ordered.LastBalanceBefore(b, op, boundary)
	if err != nil {
		return err
	}
	if !ok {
		prior = opening
	}

	delta := op.Operation.Delta()
	newBalance := prior.Add(delta)

	if _, err := ordered.PutInBatch(b, op, newBalance); err != nil {
		return err
	}

	return cascade(b, op, delta)
}

// cascade applies delta to every later ordered record for op's key,
// then keeps the checkpoint topology current: every boundary already
// persisted for op's own tuple at or after its own next boundary gets
// delta folded in, and if that boundary lies beyond the global
// watermark, every other tuple known as of the old watermark is carried
// forward to the new one too — otherwise a quiescent tuple's checkpoint
// would be left stranded behind the watermark the next op advances it
// to, and an exact-boundary read for that tuple would silently see the
// zero balance instead of its true carried-forward one.
func cascade(b *kv.Batch, op types.Op, delta types.BalanceForGoods) error {
	if delta.IsZero() {
		return nil
	}

	later, err := ordered.LaterRecords(b, op)
	if err != nil {
		return err
	}
	for _, row := range later {
		storedOp, bal, err := decodeRow(row)
		if err != nil {
			return err
		}
		updated := bal.Add(delta)
		value, err := encodeRow(storedOp, updated)
		if err != nil {
			return err
		}
		if err := b.Put(kv.BucketOrderedOps, row.Key, value); err != nil {
			return wherr.IO("propagate ordered balance", err)
		}
	}

	m := checkpoint.BoundaryFor(op.Date)
	latest, err := checkpoint.GetLatestCheckpointDateInBatch(b)
	if err != nil {
		return err
	}

	if err := advanceOwnCheckpoint(b, op, delta, m, latest); err != nil {
		return err
	}

	if m.After(latest) {
		replayTimer := metrics.NewTimer()
		if err := backfillOtherTuples(b, op, latest, m); err != nil {
			return err
		}
		if err := checkpoint.SetLatestCheckpointDateInBatch(b, m); err != nil {
			return err
		}
		replayTimer.ObserveDuration(metrics.CheckpointReplayDuration)
		metrics.CheckpointsCreatedTotal.Inc()
	}
	return nil
}

// advanceOwnCheckpoint folds delta into op's own tuple's checkpoint
// trail. When m is already at or behind the global watermark, every
// boundary from m through the watermark is expected to already exist
// for this tuple (backfillOtherTuples keeps every known tuple current
// to the watermark), so each just gets delta added in place. When m is
// beyond the watermark, the tuple's trail is extended month by month
// from wherever it last stood — its own last boundary if it is already
// known, otherwise starting cold at m — carrying the balance forward
// and mixing delta in only from m onward.
func advanceOwnCheckpoint(b *kv.Batch, op types.Op, delta types.BalanceForGoods, m, latest time.Time) error {
	if !m.After(latest) {
		for current, i := m, 0; !current.After(latest); current, i = checkpoint.NextMonth(current), i+1 {
			if i >= maxCascadeMonths {
				return wherr.Corrupt("checkpoint cascade exceeded %d months for %s/%s", maxCascadeMonths, op.Store, op.Goods)
			}
			existing, err := checkpoint.GetBalanceAtBoundaryInBatch(b, op.Store, op.Goods, op.Batch, current)
			if err != nil {
				return err
			}
			if err := setOrPrune(b, op, current, existing.Add(delta)); err != nil {
				return err
			}
		}
		return nil
	}

	carried, known, err := checkpoint.BalanceAtBoundaryExistsInBatch(b, op.Store, op.Goods, op.Batch, latest)
	if err != nil {
		return err
	}
	start := m
	if known {
		start = checkpoint.NextMonth(latest)
	}
	for current, i := start, 0; ; current, i = checkpoint.NextMonth(current), i+1 {
		if i >= maxCascadeMonths {
			return wherr.Corrupt("checkpoint cascade exceeded %d months for %s/%s", maxCascadeMonths, op.Store, op.Goods)
		}
		bal := carried
		if !current.Before(m) {
			bal = bal.Add(delta)
		}
		if err := setOrPrune(b, op, current, bal); err != nil {
			return err
		}
		carried = bal
		if !current.Before(m) {
			break
		}
	}
	return nil
}

// setOrPrune keeps the checkpoint topology free of dead rows: a balance
// that folded to exactly zero reads the same whether stored or absent,
// so it is deleted instead of written.
func setOrPrune(b *kv.Batch, op types.Op, boundary time.Time, bal types.BalanceForGoods) error {
	if bal.IsZero() {
		return checkpoint.DeleteBalanceInBatch(b, op.Store, op.Goods, op.Batch, boundary)
	}
	return checkpoint.SetBalanceInBatch(b, op.Store, op.Goods, op.Batch, boundary, bal)
}

// backfillOtherTuples carries every tuple known as of oldLatest forward
// to newLatest, month by month, with no delta of its own (it had no
// activity in the interval — that's why the watermark hadn't reached
// newLatest on its account). op's own tuple is skipped: advanceOwnCheckpoint
// already brought it to newLatest with its delta folded in.
func backfillOtherTuples(b *kv.Batch, op types.Op, oldLatest, newLatest time.Time) error {
	entries, err := checkpoint.CheckpointsAtBoundaryInBatch(b, oldLatest)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Store == op.Store && e.Goods == op.Goods && batchEqual(e.Batch, op.Batch) {
			continue
		}
		storeLogger := log.WithStore(e.Store.String()).With().
			Str("goods_id", e.Goods.String()).
			Logger()
		storeLogger.Debug().
			Time("new_watermark", newLatest).
			Msg("carrying quiescent tuple checkpoint forward")
		carried := e.BalanceForGoods
		for current, i := checkpoint.NextMonth(oldLatest), 0; ; current, i = checkpoint.NextMonth(current), i+1 {
			if i >= maxCascadeMonths {
				return wherr.Corrupt("checkpoint backfill exceeded %d months for %s/%s", maxCascadeMonths, e.Store, e.Goods)
			}
			if err := checkpoint.SetBalanceInBatch(b, e.Store, e.Goods, e.Batch, current, carried); err != nil {
				return err
			}
			if !current.Before(newLatest) {
				break
			}
		}
	}
	return nil
}

func batchEqual(a, b types.Batch) bool {
	return a.ID == b.ID && a.Date.Equal(b.Date)
}

func decodeRow(row kv.KeyValue) (types.Op, types.BalanceForGoods, error) {
	return codec.DecodeOpValue(row.Value)
}

// resolveFIFO allocates an issue-without-batch across positive-balance
// batches oldest first, rewriting op in place to carry only whatever
// quantity the allocation could not satisfy (as a Manual-mode issue
// against the empty batch), and returns the dependent child ops the
// allocation produced.
func resolveFIFO(b *kv.Batch, op *types.Op) ([]types.Op, error) {
	goodsLogger := log.WithGoods(op.Goods.String())
	goodsLogger.Debug().
		Str("requested_qty", op.Operation.Qty.String()).
		Msg("resolving issue without batch via FIFO")

	boundary, err := checkpoint.ResolvedDateInBatch(b, op.Date)
	if err != nil {
		return nil, err
	}
	openingEntries, err := checkpoint.CheckpointsForGoodsInBatch(b, op.Store, op.Goods, boundary)
	if err != nil {
		return nil, err
	}
	// The checkpoint at boundary already covers ops stamped exactly at
	// it, so the replay starts one second past it. The window runs one
	// second past op.Date so a receive sharing the issue's instant is
	// visible to allocation (op_order already sorts it first).
	replayFrom, till := boundary.Add(time.Second), op.Date.Add(time.Second)
	ops, err := ordered.OpsForGoodsInBatch(b, op.Store, op.Goods, replayFrom, till)
	if err != nil {
		return nil, err
	}

	opening := make([]aggregation.OpeningBalance, 0, len(openingEntries))
	for _, e := range openingEntries {
		opening = append(opening, aggregation.OpeningBalance{
			Key:     aggregation.Key{Store: e.Store, Goods: e.Goods, Batch: e.Batch},
			Balance: e.BalanceForGoods,
		})
	}

	report := aggregation.Aggregate(opening, ops, boundary, till)

	positive := make([]aggregation.Item, 0, len(report.Items))
	for _, it := range report.Items {
		if it.Key.Batch.IsEmpty() {
			// Not a real lot; a Manual remainder parked here must never
			// be allocated from.
			continue
		}
		if it.Close.Qty.IsPositive() {
			positive = append(positive, it)
		}
	}
	sort.Slice(positive, func(i, j int) bool {
		return positive[i].Key.Batch.Less(positive[j].Key.Batch)
	})

	requested := op.Operation.Qty
	totalCost := op.Operation.Cost
	remaining := requested

	type allocation struct {
		batch types.Batch
		qty   types.Qty
		cost  types.Cost
	}
	var allocations []allocation
	allocatedCost := types.NewCost(0)

	for _, item := range positive {
		if remaining.IsZero() {
			break
		}
		take := minQty(item.Close.Qty, remaining)
		var cost types.Cost
		if totalCost.IsZero() {
			cost = types.Cost{Decimal: take.Decimal.Mul(item.Close.AvgUnitCost().Decimal)}
		} else {
			frac := take.Decimal.Div(requested.Decimal)
			cost = types.Cost{Decimal: totalCost.Decimal.Mul(frac)}
		}
		allocations = append(allocations, allocation{batch: item.Key.Batch, qty: take, cost: cost})
		allocatedCost = allocatedCost.Add(cost)
		remaining = remaining.Sub(take)
	}

	var remainderCost types.Cost
	if totalCost.IsZero() {
		remainderCost = types.NewCost(0)
	} else {
		remainderCost = totalCost.Sub(allocatedCost)
	}

	mode := types.Auto
	if remaining.IsPositive() {
		mode = types.Manual
	}
	op.Operation = types.Issue(remaining, remainderCost, mode)

	dependents := make([]types.Op, 0, len(allocations))
	op.Dependant = op.Dependant[:0]
	for _, a := range allocations {
		dep := types.Op{
			ID:          op.ID,
			Date:        op.Date,
			Store:       op.Store,
			Goods:       op.Goods,
			Batch:       a.batch,
			IsDependent: true,
			Operation:   types.Issue(a.qty, a.cost, types.Auto),
		}
		dependents = append(dependents, dep)
		op.Dependant = append(op.Dependant, types.DependantRef{
			Store:   op.Store,
			Batch:   a.batch,
			OpOrder: dep.Operation.OpOrder(),
		})
	}

	return dependents, nil
}

func minQty(a, b types.Qty) types.Qty {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func encodeRow(op types.Op, balance types.BalanceForGoods) ([]byte, error) {
	return codec.EncodeOpValue(op, balance)
}
