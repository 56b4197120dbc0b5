// Package codec builds the fixed-width, big-endian composite keys the
// ordered and checkpoint topologies range-scan over, and the JSON value
// encoding stored alongside them. Byte order is chosen so that a plain
// lexicographic bucket scan visits records in (time, tiebreaker)
// order — the property both topologies are built on.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/warehouse/pkg/types"
)

// OrderedKeyLen is the byte length of a key written by EncodeOrderedKey:
// ts(8) op_order(1) store(16) goods(16) batch.date(8) batch.id(16)
// op.id(16) dependent(1).
const OrderedKeyLen = 8 + 1 + 16 + 16 + 8 + 16 + 16 + 1

// CheckpointKeyLen is the byte length of a key written by
// EncodeCheckpointKey: ts(8) store(16) goods(16) batch.date(8) batch.id(16).
const CheckpointKeyLen = 8 + 16 + 16 + 8 + 16

// putTimestamp writes big-endian Unix seconds. The zero time.Time (the
// empty batch's date) maps to 0 so it sorts below every real instant;
// casting its negative Unix() would wrap it to the top of the keyspace
// and break every range bound built with a Batch{} sentinel.
func putTimestamp(dst []byte, t time.Time) {
	var sec uint64
	if !t.IsZero() {
		sec = uint64(t.Unix())
	}
	binary.BigEndian.PutUint64(dst, sec)
}

func getTimestamp(src []byte) time.Time {
	sec := int64(binary.BigEndian.Uint64(src))
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// EncodeOrderedKey builds the range-scannable key for one Op record in
// the ordered topology.
func EncodeOrderedKey(op types.Op) []byte {
	buf := make([]byte, OrderedKeyLen)
	i := 0
	putTimestamp(buf[i:], op.Date)
	i += 8
	buf[i] = op.Operation.OpOrder()
	i++
	copy(buf[i:], op.Store[:])
	i += 16
	copy(buf[i:], op.Goods[:])
	i += 16
	putTimestamp(buf[i:], op.Batch.Date)
	i += 8
	copy(buf[i:], op.Batch.ID[:])
	i += 16
	copy(buf[i:], op.ID[:])
	i += 16
	if op.IsDependent {
		buf[i] = 1
	}
	return buf
}

// DecodeOrderedKey extracts the sort coordinates of an ordered-topology
// key without needing the value bytes.
func DecodeOrderedKey(key []byte) (date time.Time, opOrder byte, store types.Store, goods types.Goods, batch types.Batch, opID uuid.UUID, isDependent bool, err error) {
	if len(key) != OrderedKeyLen {
		return date, 0, store, goods, batch, opID, false, errKeyLen("ordered", OrderedKeyLen, len(key))
	}
	i := 0
	date = getTimestamp(key[i:])
	i += 8
	opOrder = key[i]
	i++
	copy(store[:], key[i:i+16])
	i += 16
	copy(goods[:], key[i:i+16])
	i += 16
	batch.Date = getTimestamp(key[i:])
	i += 8
	copy(batch.ID[:], key[i:i+16])
	i += 16
	copy(opID[:], key[i:i+16])
	i += 16
	isDependent = key[i] != 0
	return date, opOrder, store, goods, batch, opID, isDependent, nil
}

// OrderedRangeBounds returns the [from, till) key pair that scans every
// ordered-topology record between the two timestamps, across all
// stores/goods/batches/ops. Callers narrow the scan further by
// post-filtering the fixed store/goods offsets — the same pattern the
// backing range scan uses throughout this package.
func OrderedRangeBounds(fromDate, tillDate time.Time) (from, till []byte) {
	return orderedBound(fromDate, 0x00, types.Nil128, types.Nil128, types.Batch{}, uuid.Nil),
		orderedBound(tillDate, 0xFF, types.Max128, types.Max128, types.Batch{Date: maxTime, ID: types.Max128}, types.Max128)
}

// OrderedRangeBoundsForStore narrows OrderedRangeBounds to a single store.
func OrderedRangeBoundsForStore(store types.Store, fromDate, tillDate time.Time) (from, till []byte) {
	return orderedBound(fromDate, 0x00, store, types.Nil128, types.Batch{}, uuid.Nil),
		orderedBound(tillDate, 0xFF, store, types.Max128, types.Batch{Date: maxTime, ID: types.Max128}, types.Max128)
}

// OrderedRangeBoundsForGoods narrows OrderedRangeBounds to a single
// (store, goods) pair.
func OrderedRangeBoundsForGoods(store types.Store, goods types.Goods, fromDate, tillDate time.Time) (from, till []byte) {
	return orderedBound(fromDate, 0x00, store, goods, types.Batch{}, uuid.Nil),
		orderedBound(tillDate, 0xFF, store, goods, types.Batch{Date: maxTime, ID: types.Max128}, types.Max128)
}

// OrderedLowerBound returns the smallest key for (store, goods, batch)
// at or after fromDate — the scan start a propagation pass seeks to
// when it doesn't need a paired upper bound.
func OrderedLowerBound(store types.Store, goods types.Goods, batch types.Batch, fromDate time.Time) []byte {
	return orderedBound(fromDate, 0x00, store, goods, batch, uuid.Nil)
}

var maxTime = time.Unix(1<<62, 0).UTC()

func orderedBound(date time.Time, opOrder byte, store, goods types.Goods, batch types.Batch, opID uuid.UUID) []byte {
	op := types.Op{
		ID:        opID,
		Date:      date,
		Store:     store,
		Goods:     goods,
		Batch:     batch,
		Operation: sentinelOp(opOrder),
	}
	return EncodeOrderedKey(op)
}

func sentinelOp(opOrder byte) types.InternalOperation {
	if opOrder == 0x00 {
		return types.Receive(types.NewQty(0), types.NewCost(0))
	}
	return types.Issue(types.NewQty(0), types.NewCost(0), types.Auto)
}

// StoreBytes returns the 16-byte slice a caller compares against
// key[9:25] to confirm a scanned record belongs to the expected store.
func StoreBytes(store types.Store) []byte { return store[:] }

// GoodsBytes returns the 16-byte slice a caller compares against
// key[25:41] to confirm a scanned record belongs to the expected goods.
func GoodsBytes(goods types.Goods) []byte { return goods[:] }

// BatchBytes returns the batch.date||batch.id bytes a caller compares
// against KeyBatch to confirm a scanned record belongs to the expected
// batch.
func BatchBytes(batch types.Batch) []byte {
	buf := make([]byte, orderedBatchLen)
	putTimestamp(buf, batch.Date)
	copy(buf[8:], batch.ID[:])
	return buf
}

const (
	orderedStoreOffset = 8 + 1
	orderedGoodsOffset = orderedStoreOffset + 16
	orderedBatchOffset = orderedGoodsOffset + 16
	orderedBatchLen    = 8 + 16
)

// KeyStore extracts the store bytes directly from an encoded ordered key.
func KeyStore(key []byte) []byte { return key[orderedStoreOffset : orderedStoreOffset+16] }

// KeyGoods extracts the goods bytes directly from an encoded ordered key.
func KeyGoods(key []byte) []byte { return key[orderedGoodsOffset : orderedGoodsOffset+16] }

// KeyBatch extracts the batch.date||batch.id bytes directly from an
// encoded ordered key.
func KeyBatch(key []byte) []byte { return key[orderedBatchOffset : orderedBatchOffset+orderedBatchLen] }

// EncodeCheckpointKey builds the range-scannable key for one balance
// checkpoint.
func EncodeCheckpointKey(store types.Store, goods types.Goods, batch types.Batch, date time.Time) []byte {
	buf := make([]byte, CheckpointKeyLen)
	i := 0
	putTimestamp(buf[i:], date)
	i += 8
	copy(buf[i:], store[:])
	i += 16
	copy(buf[i:], goods[:])
	i += 16
	putTimestamp(buf[i:], batch.Date)
	i += 8
	copy(buf[i:], batch.ID[:])
	return buf
}

// DecodeCheckpointKey is the inverse of EncodeCheckpointKey.
func DecodeCheckpointKey(key []byte) (date time.Time, store types.Store, goods types.Goods, batch types.Batch, err error) {
	if len(key) != CheckpointKeyLen {
		return date, store, goods, batch, errKeyLen("checkpoint", CheckpointKeyLen, len(key))
	}
	i := 0
	date = getTimestamp(key[i:])
	i += 8
	copy(store[:], key[i:i+16])
	i += 16
	copy(goods[:], key[i:i+16])
	i += 16
	batch.Date = getTimestamp(key[i:])
	i += 8
	copy(batch.ID[:], key[i:i+16])
	return date, store, goods, batch, nil
}

// opRecord is the on-disk value pairing an Op with the running balance
// in effect immediately after it — a deliberate denormalization that
// saves a second lookup on every range scan.
type opRecord struct {
	Op      types.Op              `json:"op"`
	Balance types.BalanceForGoods `json:"balance"`
}

// EncodeOpValue serializes an (Op, running balance) pair for storage as
// an ordered-topology value.
func EncodeOpValue(op types.Op, balance types.BalanceForGoods) ([]byte, error) {
	return json.Marshal(opRecord{Op: op, Balance: balance})
}

// DecodeOpValue is the inverse of EncodeOpValue.
func DecodeOpValue(data []byte) (types.Op, types.BalanceForGoods, error) {
	var rec opRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Op{}, types.BalanceForGoods{}, err
	}
	return rec.Op, rec.Balance, nil
}

// EncodeBalance serializes a checkpoint balance.
func EncodeBalance(balance types.BalanceForGoods) ([]byte, error) {
	return json.Marshal(balance)
}

// DecodeBalance is the inverse of EncodeBalance.
func DecodeBalance(data []byte) (types.BalanceForGoods, error) {
	var balance types.BalanceForGoods
	if err := json.Unmarshal(data, &balance); err != nil {
		return types.BalanceForGoods{}, err
	}
	return balance, nil
}

// EncodeDate serializes a watermark date (e.g. latest_checkpoint_date)
// as its own small JSON value.
func EncodeDate(t time.Time) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeDate is the inverse of EncodeDate.
func DecodeDate(data []byte) (time.Time, error) {
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func errKeyLen(kind string, want, got int) error {
	return fmt.Errorf("%s key: want %d bytes, got %d", kind, want, got)
}
