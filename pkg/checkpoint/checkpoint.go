// Package checkpoint implements the check_date_store_batch checkpoint
// topology: one BalanceForGoods snapshot per (store, goods, batch),
// keyed at the first instant of the month it opens, plus the monotonic
// latest_checkpoint_date watermark that lets a lookup for a future
// month degrade to the newest balance actually persisted.
package checkpoint

import (
	"time"

	"github.com/cuemby/warehouse/pkg/codec"
	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/types"
	"github.com/cuemby/warehouse/pkg/wherr"
)

var latestCheckpointMetaKey = []byte("latest_checkpoint_date")

// FirstDayOfMonth returns the UTC midnight of the first day of t's own
// month — the boundary the checkpoint opening that month is keyed at.
func FirstDayOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns the first day of the month after t.
func NextMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// BoundaryFor returns the month boundary whose checkpoint covers an op
// at t. A checkpoint at boundary D sums every op with ts <= D, so an op
// stamped exactly at a boundary belongs to the month closing there, not
// the one opening.
func BoundaryFor(t time.Time) time.Time {
	first := FirstDayOfMonth(t)
	if t.Equal(first) {
		return first
	}
	return NextMonth(first)
}

// Topology is the checkpoint read/write surface.
type Topology struct {
	db *kv.DB
}

// New wraps an opened kv.DB.
func New(db *kv.DB) *Topology {
	return &Topology{db: db}
}

// GetLatestCheckpointDate returns the newest month boundary any
// checkpoint has been written at, or the Unix epoch if none exist yet.
func (t *Topology) GetLatestCheckpointDate() (time.Time, error) {
	raw, err := t.db.Get(kv.BucketCheckpointMeta, latestCheckpointMetaKey)
	if err != nil {
		return time.Time{}, wherr.IO("get latest checkpoint date", err)
	}
	return decodeWatermark(raw)
}

// GetLatestCheckpointDateInBatch reads the watermark within an open
// batch, seeing its own uncommitted writes.
func GetLatestCheckpointDateInBatch(b *kv.Batch) (time.Time, error) {
	return decodeWatermark(b.Get(kv.BucketCheckpointMeta, latestCheckpointMetaKey))
}

func decodeWatermark(raw []byte) (time.Time, error) {
	if raw == nil {
		return time.Unix(0, 0).UTC(), nil
	}
	date, err := codec.DecodeDate(raw)
	if err != nil {
		return time.Time{}, wherr.Corrupt("decode latest checkpoint date: %v", err)
	}
	return date, nil
}

// SetLatestCheckpointDateInBatch advances the watermark, refusing to go
// backwards.
func SetLatestCheckpointDateInBatch(b *kv.Batch, date time.Time) error {
	current, err := GetLatestCheckpointDateInBatch(b)
	if err != nil {
		return err
	}
	if !date.After(current) {
		return nil
	}
	encoded, err := codec.EncodeDate(date)
	if err != nil {
		return wherr.IO("encode latest checkpoint date", err)
	}
	if err := b.Put(kv.BucketCheckpointMeta, latestCheckpointMetaKey, encoded); err != nil {
		return wherr.IO("put latest checkpoint date", err)
	}
	return nil
}

// ResolvedDate returns the checkpoint boundary to read from for a
// balance-as-of query at date: the first day of date's own month, or
// the latest persisted checkpoint if that month hasn't been reached
// yet.
func (t *Topology) ResolvedDate(date time.Time) (time.Time, error) {
	latest, err := t.GetLatestCheckpointDate()
	if err != nil {
		return time.Time{}, err
	}
	return resolve(date, latest), nil
}

// ResolvedDateInBatch is ResolvedDate read within an open batch.
func ResolvedDateInBatch(b *kv.Batch, date time.Time) (time.Time, error) {
	latest, err := GetLatestCheckpointDateInBatch(b)
	if err != nil {
		return time.Time{}, err
	}
	return resolve(date, latest), nil
}

func resolve(date, latest time.Time) time.Time {
	boundary := FirstDayOfMonth(date)
	if boundary.After(latest) {
		return latest
	}
	return boundary
}

// GetBalance returns the checkpoint balance for (store, goods, batch)
// as of date, resolving the month boundary first. Absent checkpoints
// read as the zero balance.
func (t *Topology) GetBalance(store types.Store, goods types.Goods, batch types.Batch, date time.Time) (types.BalanceForGoods, error) {
	resolved, err := t.ResolvedDate(date)
	if err != nil {
		return types.BalanceForGoods{}, err
	}
	key := codec.EncodeCheckpointKey(store, goods, batch, resolved)
	raw, err := t.db.Get(kv.BucketCheckpoints, key)
	if err != nil {
		return types.BalanceForGoods{}, wherr.IO("get checkpoint balance", err)
	}
	return decodeBalanceOrZero(raw)
}

// GetBalanceAtBoundaryInBatch reads the checkpoint at an exact boundary
// within an open batch, returning the zero balance if absent. Used by
// the op processor to read-modify-write the running checkpoint while
// propagating a delta forward, and while materializing a new boundary's
// opening balance from the one before it.
func GetBalanceAtBoundaryInBatch(b *kv.Batch, store types.Store, goods types.Goods, batch types.Batch, boundary time.Time) (types.BalanceForGoods, error) {
	key := codec.EncodeCheckpointKey(store, goods, batch, boundary)
	return decodeBalanceOrZero(b.Get(kv.BucketCheckpoints, key))
}

// BalanceAtBoundaryExistsInBatch is GetBalanceAtBoundaryInBatch but also
// reports whether a checkpoint row is actually persisted at boundary
// for this tuple, as opposed to merely reading as the zero balance
// because nothing has ever been written there. The op processor needs
// this distinction to tell "tuple has no activity before m" (nothing to
// carry forward) apart from "tuple's last checkpoint genuinely is zero".
func BalanceAtBoundaryExistsInBatch(b *kv.Batch, store types.Store, goods types.Goods, batch types.Batch, boundary time.Time) (types.BalanceForGoods, bool, error) {
	key := codec.EncodeCheckpointKey(store, goods, batch, boundary)
	raw := b.Get(kv.BucketCheckpoints, key)
	if raw == nil {
		return types.ZeroBalance(), false, nil
	}
	balance, err := codec.DecodeBalance(raw)
	if err != nil {
		return types.BalanceForGoods{}, false, wherr.Corrupt("decode checkpoint balance: %v", err)
	}
	return balance, true, nil
}

func decodeBalanceOrZero(raw []byte) (types.BalanceForGoods, error) {
	if raw == nil {
		return types.ZeroBalance(), nil
	}
	balance, err := codec.DecodeBalance(raw)
	if err != nil {
		return types.BalanceForGoods{}, wherr.Corrupt("decode checkpoint balance: %v", err)
	}
	return balance, nil
}

// SetBalanceInBatch writes the checkpoint for (store, goods, batch) at
// the exact boundary date given — callers pass an already-resolved
// month boundary, not a query date.
func SetBalanceInBatch(b *kv.Batch, store types.Store, goods types.Goods, batch types.Batch, boundary time.Time, balance types.BalanceForGoods) error {
	key := codec.EncodeCheckpointKey(store, goods, batch, boundary)
	encoded, err := codec.EncodeBalance(balance)
	if err != nil {
		return wherr.IO("encode checkpoint balance", err)
	}
	if err := b.Put(kv.BucketCheckpoints, key, encoded); err != nil {
		return wherr.IO("put checkpoint balance", err)
	}
	return nil
}

// DeleteBalanceInBatch removes the checkpoint at the exact boundary.
// Absent entries read as the zero balance everywhere, so pruning an
// entry whose balance folded to zero is indistinguishable from keeping
// it — callers use this to keep the topology free of dead rows.
func DeleteBalanceInBatch(b *kv.Batch, store types.Store, goods types.Goods, batch types.Batch, boundary time.Time) error {
	key := codec.EncodeCheckpointKey(store, goods, batch, boundary)
	if err := b.Delete(kv.BucketCheckpoints, key); err != nil {
		return wherr.IO("delete checkpoint balance", err)
	}
	return nil
}

// BalanceEntry is one row returned by the checkpoints_for_* scans.
type BalanceEntry struct {
	Store types.Store
	Goods types.Goods
	Batch types.Batch
	Date  time.Time
	types.BalanceForGoods
}

// CheckpointsForGoods returns every batch checkpoint for one
// (store, goods) pair at the resolved boundary for date.
func (t *Topology) CheckpointsForGoods(store types.Store, goods types.Goods, date time.Time) ([]BalanceEntry, error) {
	resolved, err := t.ResolvedDate(date)
	if err != nil {
		return nil, err
	}
	from := codec.EncodeCheckpointKey(store, goods, types.Batch{}, resolved)
	till := codec.EncodeCheckpointKey(store, goods, types.Batch{Date: farFuture, ID: types.Max128}, resolved)
	return t.scan(from, till)
}

// CheckpointsForStore returns every (goods, batch) checkpoint for one
// store at the resolved boundary for date.
func (t *Topology) CheckpointsForStore(store types.Store, date time.Time) ([]BalanceEntry, error) {
	resolved, err := t.ResolvedDate(date)
	if err != nil {
		return nil, err
	}
	from := codec.EncodeCheckpointKey(store, types.Nil128, types.Batch{}, resolved)
	till := codec.EncodeCheckpointKey(store, types.Max128, types.Batch{Date: farFuture, ID: types.Max128}, resolved)
	return t.scan(from, till)
}

// CheckpointsForAll returns every checkpoint, across stores and goods,
// at the resolved boundary for date.
func (t *Topology) CheckpointsForAll(date time.Time) ([]BalanceEntry, error) {
	resolved, err := t.ResolvedDate(date)
	if err != nil {
		return nil, err
	}
	from := codec.EncodeCheckpointKey(types.Nil128, types.Nil128, types.Batch{}, resolved)
	till := codec.EncodeCheckpointKey(types.Max128, types.Max128, types.Batch{Date: farFuture, ID: types.Max128}, resolved)
	return t.scan(from, till)
}

// CheckpointsForGoodsInBatch mirrors CheckpointsForGoods but reads
// within an open batch, used by FIFO resolution to see checkpoint
// writes staged earlier in the same record_ops call.
func CheckpointsForGoodsInBatch(b *kv.Batch, store types.Store, goods types.Goods, boundary time.Time) ([]BalanceEntry, error) {
	from := codec.EncodeCheckpointKey(store, goods, types.Batch{}, boundary)
	till := codec.EncodeCheckpointKey(store, goods, types.Batch{Date: farFuture, ID: types.Max128}, boundary)
	rows := b.Range(kv.BucketCheckpoints, from, till)

	entries := make([]BalanceEntry, 0, len(rows))
	for _, row := range rows {
		date, rowStore, rowGoods, batch, err := codec.DecodeCheckpointKey(row.Key)
		if err != nil {
			return nil, wherr.Corrupt("decode checkpoint key: %v", err)
		}
		balance, err := codec.DecodeBalance(row.Value)
		if err != nil {
			return nil, wherr.Corrupt("decode checkpoint balance: %v", err)
		}
		entries = append(entries, BalanceEntry{Store: rowStore, Goods: rowGoods, Batch: batch, Date: date, BalanceForGoods: balance})
	}
	return entries, nil
}

// CheckpointsAtBoundaryInBatch returns every checkpoint entry persisted
// at exactly boundary, across every (store, goods, batch) tuple. The op
// processor uses this to enumerate every tuple that was already known
// as of the watermark's previous value, so it can carry each of them
// forward whenever an op being written pushes the watermark past a
// boundary the rest of the topology hasn't reached yet.
func CheckpointsAtBoundaryInBatch(b *kv.Batch, boundary time.Time) ([]BalanceEntry, error) {
	from := codec.EncodeCheckpointKey(types.Nil128, types.Nil128, types.Batch{}, boundary)
	till := codec.EncodeCheckpointKey(types.Max128, types.Max128, types.Batch{Date: farFuture, ID: types.Max128}, boundary)
	rows := b.Range(kv.BucketCheckpoints, from, till)

	entries := make([]BalanceEntry, 0, len(rows))
	for _, row := range rows {
		date, store, goods, batch, err := codec.DecodeCheckpointKey(row.Key)
		if err != nil {
			return nil, wherr.Corrupt("decode checkpoint key: %v", err)
		}
		balance, err := codec.DecodeBalance(row.Value)
		if err != nil {
			return nil, wherr.Corrupt("decode checkpoint balance: %v", err)
		}
		entries = append(entries, BalanceEntry{Store: store, Goods: goods, Batch: batch, Date: date, BalanceForGoods: balance})
	}
	return entries, nil
}

var farFuture = time.Unix(1<<62, 0).UTC()

func (t *Topology) scan(from, till []byte) ([]BalanceEntry, error) {
	rows, err := t.db.Range(kv.BucketCheckpoints, from, till)
	if err != nil {
		return nil, wherr.IO("range checkpoints", err)
	}

	entries := make([]BalanceEntry, 0, len(rows))
	for _, row := range rows {
		date, store, goods, batch, err := codec.DecodeCheckpointKey(row.Key)
		if err != nil {
			return nil, wherr.Corrupt("decode checkpoint key: %v", err)
		}
		balance, err := codec.DecodeBalance(row.Value)
		if err != nil {
			return nil, wherr.Corrupt("decode checkpoint balance: %v", err)
		}
		entries = append(entries, BalanceEntry{
			Store:           store,
			Goods:           goods,
			Batch:           batch,
			Date:            date,
			BalanceForGoods: balance,
		})
	}
	return entries, nil
}
