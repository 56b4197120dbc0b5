// Package ordered implements the date_type_store_batch_id ordered
// topology: every Op keyed so that a plain ascending bucket scan visits
// records by (timestamp, op_order, store, goods, batch, op id). The op
// processor is the only writer; everything else here serves reads.
package ordered

import (
	"bytes"
	"time"

	"github.com/cuemby/warehouse/pkg/codec"
	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/types"
	"github.com/cuemby/warehouse/pkg/wherr"
)

// Record pairs a stored Op with the running balance in effect
// immediately after it.
type Record struct {
	Op      types.Op
	Balance types.BalanceForGoods
}

// Topology is the ordered-write surface the op processor drives; a
// thin wrapper so callers don't reach into kv.DB/kv.Batch directly.
type Topology struct {
	db *kv.DB
}

// New wraps an opened kv.DB.
func New(db *kv.DB) *Topology {
	return &Topology{db: db}
}

// Get returns the stored (op, balance) at the coordinates of op, or
// (nil, nil) if nothing is there yet.
func (t *Topology) Get(op types.Op) (*Record, error) {
	key := codec.EncodeOrderedKey(op)
	raw, err := t.db.Get(kv.BucketOrderedOps, key)
	if err != nil {
		return nil, wherr.IO("get ordered op", err)
	}
	if raw == nil {
		return nil, nil
	}
	storedOp, balance, err := codec.DecodeOpValue(raw)
	if err != nil {
		return nil, wherr.Corrupt("decode ordered op at %x: %v", key, err)
	}
	return &Record{Op: storedOp, Balance: balance}, nil
}

// PutInBatch stages an insert/overwrite of op+balance, returning
// whatever record previously lived at that key (nil if none), so the
// caller can compute a before/after delta.
func PutInBatch(b *kv.Batch, op types.Op, balance types.BalanceForGoods) (*Record, error) {
	key := codec.EncodeOrderedKey(op)
	var before *Record
	if raw := b.Get(kv.BucketOrderedOps, key); raw != nil {
		storedOp, storedBal, err := codec.DecodeOpValue(raw)
		if err != nil {
			return nil, wherr.Corrupt("decode ordered op at %x: %v", key, err)
		}
		before = &Record{Op: storedOp, Balance: storedBal}
	}
	value, err := codec.EncodeOpValue(op, balance)
	if err != nil {
		return nil, wherr.IO("encode ordered op", err)
	}
	if err := b.Put(kv.BucketOrderedOps, key, value); err != nil {
		return nil, wherr.IO("put ordered op", err)
	}
	return before, nil
}

// GetInBatch reads the record at the coordinates of op as it stands
// within an open batch, seeing the batch's own uncommitted writes.
func GetInBatch(b *kv.Batch, op types.Op) (*Record, error) {
	key := codec.EncodeOrderedKey(op)
	raw := b.Get(kv.BucketOrderedOps, key)
	if raw == nil {
		return nil, nil
	}
	storedOp, balance, err := codec.DecodeOpValue(raw)
	if err != nil {
		return nil, wherr.Corrupt("decode ordered op at %x: %v", key, err)
	}
	return &Record{Op: storedOp, Balance: balance}, nil
}

// LastBalanceBefore scans (store, goods, batch) records strictly
// before op's own key within an open batch and returns the running
// balance stored on the most recent one, or ok=false if there is none
// (the caller then falls back to the checkpoint opening balance).
func LastBalanceBefore(b *kv.Batch, op types.Op, sinceBoundary time.Time) (balance types.BalanceForGoods, ok bool, err error) {
	from := codec.OrderedLowerBound(op.Store, op.Goods, op.Batch, sinceBoundary)
	till := codec.EncodeOrderedKey(op)
	rows := b.Range(kv.BucketOrderedOps, from, till)

	var last types.BalanceForGoods
	found := false
	for _, row := range rows {
		if !sameKey(row.Key, op.Store, op.Goods, op.Batch) {
			continue
		}
		_, bal, decErr := codec.DecodeOpValue(row.Value)
		if decErr != nil {
			return types.BalanceForGoods{}, false, wherr.Corrupt("decode ordered op at %x: %v", row.Key, decErr)
		}
		last = bal
		found = true
	}
	return last, found, nil
}

// LaterRecords returns every (store, goods, batch) record strictly
// after op's own key within an open batch, ascending, for propagation.
func LaterRecords(b *kv.Batch, op types.Op) ([]kv.KeyValue, error) {
	from := codec.EncodeOrderedKey(op)
	rows := b.Range(kv.BucketOrderedOps, from, nil)

	var out []kv.KeyValue
	for _, row := range rows {
		if bytes.Equal(row.Key, from) {
			continue
		}
		if !sameKey(row.Key, op.Store, op.Goods, op.Batch) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func sameKey(key []byte, store types.Store, goods types.Goods, batch types.Batch) bool {
	return bytes.Equal(codec.KeyStore(key), codec.StoreBytes(store)) &&
		bytes.Equal(codec.KeyGoods(key), codec.GoodsBytes(goods)) &&
		bytes.Equal(codec.KeyBatch(key), codec.BatchBytes(batch))
}

// OpsForGoodsInBatch mirrors Topology.OpsForGoods but reads within an
// open batch, used by FIFO resolution to see ops inserted earlier in
// the same record_ops call.
func OpsForGoodsInBatch(b *kv.Batch, store types.Store, goods types.Goods, fromDate, tillDate time.Time) ([]types.Op, error) {
	from, till := codec.OrderedRangeBoundsForGoods(store, goods, fromDate, tillDate)
	rows := b.Range(kv.BucketOrderedOps, from, till)

	var ops []types.Op
	for _, row := range rows {
		if !bytes.Equal(codec.KeyStore(row.Key), codec.StoreBytes(store)) ||
			!bytes.Equal(codec.KeyGoods(row.Key), codec.GoodsBytes(goods)) {
			continue
		}
		op, _, err := codec.DecodeOpValue(row.Value)
		if err != nil {
			return nil, wherr.Corrupt("decode ordered op at %x: %v", row.Key, err)
		}
		if op.Operation.IsZero() && !op.IsDependent {
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// DeleteInBatch removes the record at the coordinates of op, returning
// what was there (nil if nothing was).
func DeleteInBatch(b *kv.Batch, op types.Op) (*Record, error) {
	key := codec.EncodeOrderedKey(op)
	var before *Record
	if raw := b.Get(kv.BucketOrderedOps, key); raw != nil {
		storedOp, storedBal, err := codec.DecodeOpValue(raw)
		if err != nil {
			return nil, wherr.Corrupt("decode ordered op at %x: %v", key, err)
		}
		before = &Record{Op: storedOp, Balance: storedBal}
	}
	if before == nil {
		return nil, nil
	}
	if err := b.Delete(kv.BucketOrderedOps, key); err != nil {
		return nil, wherr.IO("delete ordered op", err)
	}
	return before, nil
}

// OpsForStore returns every op recorded for store in [fromDate,
// tillDate), in ascending order. Dependent children are stored at their
// own keys and come back from the scan directly; a parent whose qty
// fully decomposed into children is skipped, it exists only to anchor
// delete/update cascades.
func (t *Topology) OpsForStore(store types.Store, fromDate, tillDate time.Time) ([]types.Op, error) {
	from, till := codec.OrderedRangeBoundsForStore(store, fromDate, tillDate)
	return t.scan(from, till, func(key []byte) bool {
		return bytes.Equal(codec.KeyStore(key), codec.StoreBytes(store))
	})
}

// OpsForGoods returns every op recorded for a single (store, goods)
// pair in [fromDate, tillDate).
func (t *Topology) OpsForGoods(store types.Store, goods types.Goods, fromDate, tillDate time.Time) ([]types.Op, error) {
	from, till := codec.OrderedRangeBoundsForGoods(store, goods, fromDate, tillDate)
	return t.scan(from, till, func(key []byte) bool {
		return bytes.Equal(codec.KeyStore(key), codec.StoreBytes(store)) &&
			bytes.Equal(codec.KeyGoods(key), codec.GoodsBytes(goods))
	})
}

// OpsForGoodsSet returns every op in [fromDate, tillDate) whose goods
// is a member of the given set, across all stores.
func (t *Topology) OpsForGoodsSet(goodsSet []types.Goods, fromDate, tillDate time.Time) ([]types.Op, error) {
	from, till := codec.OrderedRangeBounds(fromDate, tillDate)
	members := make(map[[16]byte]bool, len(goodsSet))
	for _, g := range goodsSet {
		members[g] = true
	}
	return t.scan(from, till, func(key []byte) bool {
		var g types.Goods
		copy(g[:], codec.KeyGoods(key))
		return members[g]
	})
}

// OpsForAll returns every op recorded in [fromDate, tillDate), across
// every store and goods.
func (t *Topology) OpsForAll(fromDate, tillDate time.Time) ([]types.Op, error) {
	from, till := codec.OrderedRangeBounds(fromDate, tillDate)
	return t.scan(from, till, func([]byte) bool { return true })
}

func (t *Topology) scan(from, till []byte, match func(key []byte) bool) ([]types.Op, error) {
	rows, err := t.db.Range(kv.BucketOrderedOps, from, till)
	if err != nil {
		return nil, wherr.IO("range ordered ops", err)
	}

	var ops []types.Op
	for _, row := range rows {
		if !match(row.Key) {
			continue
		}
		op, _, err := codec.DecodeOpValue(row.Value)
		if err != nil {
			return nil, wherr.Corrupt("decode ordered op at %x: %v", row.Key, err)
		}
		if op.Operation.IsZero() && !op.IsDependent {
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}
