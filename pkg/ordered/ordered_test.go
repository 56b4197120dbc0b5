package ordered

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

func newOp(date time.Time, internal types.InternalOperation) types.Op {
	return types.Op{ID: uuid.New(), Date: date, Store: store1, Goods: goods1, Batch: batch1, Operation: internal}
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	op := newOp(time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC), types.Receive(types.NewQty(10), types.NewCost(50)))
	b, err := db.NewBatch()
	require.NoError(t, err)
	_, err = PutInBatch(b, op, types.BalanceForGoods{Qty: types.NewQty(10), Cost: types.NewCost(50)})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	rec, err := topo.Get(op)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.Balance.Qty.Cmp(types.NewQty(10)))
}

func TestOpsForStoreFiltersOtherStores(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	otherStore := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	op1 := newOp(time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC), types.Receive(types.NewQty(1), types.NewCost(1)))
	op2 := op1
	op2.ID = uuid.New()
	op2.Store = otherStore

	b, err := db.NewBatch()
	require.NoError(t, err)
	_, err = PutInBatch(b, op1, types.ZeroBalance())
	require.NoError(t, err)
	_, err = PutInBatch(b, op2, types.ZeroBalance())
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	ops, err := topo.OpsForStore(store1, time.Unix(0, 0), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, store1, ops[0].Store)
}

func TestOpOrderingReceiveBeforeIssueAtSameTimestamp(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	ts := time.Date(2022, 5, 28, 0, 0, 0, 0, time.UTC)
	issue := newOp(ts, types.Issue(types.NewQty(2), types.NewCost(10), types.Auto))
	recv := newOp(ts, types.Receive(types.NewQty(5), types.NewCost(25)))

	b, err := db.NewBatch()
	require.NoError(t, err)
	_, err = PutInBatch(b, issue, types.ZeroBalance())
	require.NoError(t, err)
	_, err = PutInBatch(b, recv, types.ZeroBalance())
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	ops, err := topo.OpsForGoods(store1, goods1, ts, ts.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, types.KindReceive, ops[0].Operation.Kind)
	assert.Equal(t, types.KindIssue, ops[1].Operation.Kind)
}

func TestDeleteInBatchRemovesRecord(t *testing.T) {
	db := openTestDB(t)
	topo := New(db)

	op := newOp(time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC), types.Receive(types.NewQty(1), types.NewCost(1)))
	b, err := db.NewBatch()
	require.NoError(t, err)
	_, err = PutInBatch(b, op, types.ZeroBalance())
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	b2, err := db.NewBatch()
	require.NoError(t, err)
	before, err := DeleteInBatch(b2, op)
	require.NoError(t, err)
	require.NotNil(t, before)
	require.NoError(t, b2.Commit())

	rec, err := topo.Get(op)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLastBalanceBeforeFindsMostRecent(t *testing.T) {
	db := openTestDB(t)

	op1 := newOp(time.Date(2022, 5, 27, 0, 0, 0, 0, time.UTC), types.Receive(types.NewQty(10), types.NewCost(50)))
	op2 := newOp(time.Date(2022, 5, 28, 0, 0, 0, 0, time.UTC), types.Issue(types.NewQty(5), types.NewCost(25), types.Auto))
	op3 := newOp(time.Date(2022, 5, 30, 0, 0, 0, 0, time.UTC), types.Receive(types.NewQty(2), types.NewCost(10)))

	b, err := db.NewBatch()
	require.NoError(t, err)
	_, err = PutInBatch(b, op1, types.BalanceForGoods{Qty: types.NewQty(10), Cost: types.NewCost(50)})
	require.NoError(t, err)
	_, err = PutInBatch(b, op2, types.BalanceForGoods{Qty: types.NewQty(5), Cost: types.NewCost(25)})
	require.NoError(t, err)
	require.NoError(t, b.Commit())

	b2, err := db.NewBatch()
	require.NoError(t, err)
	bal, ok, err := LastBalanceBefore(b2, op3, time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, bal.Qty.Cmp(types.NewQty(5)))
	require.NoError(t, b2.Rollback())
}
