// Package types holds the value-typed entities the warehouse engine
// operates on: Goods and Store identities, Batch, the Qty/Cost decimal
// algebra, BalanceForGoods, InternalOperation, Op, OpMutation, Balance
// and Document. Types here carry no I/O.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Goods is an opaque 128-bit identity for a kind of stock.
type Goods = uuid.UUID

// Store is an opaque 128-bit identity for a physical location.
type Store = uuid.UUID

// Nil128 is the all-zero UUID, used as the "least" sentinel when
// building range-scan bounds over a composite key.
var Nil128 = uuid.UUID{}

// Max128 is the all-0xFF UUID, used as the "greatest" sentinel when
// building range-scan bounds over a composite key.
var Max128 = uuid.UUID{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// Batch identifies a receipt-scoped lot of goods. The zero Batch (ID and
// Date both zero) represents "issue without batch hint" pending
// resolution by the op processor.
type Batch struct {
	ID   uuid.UUID `json:"id"`
	Date time.Time `json:"date"`
}

// IsEmpty reports whether this is the unspecified "resolve me" batch.
func (b Batch) IsEmpty() bool {
	return b.ID == uuid.Nil && b.Date.IsZero()
}

// Less orders batches by (date, id) — the deterministic tiebreaker used
// when a single issue resolves across multiple batches.
func (b Batch) Less(other Batch) bool {
	if !b.Date.Equal(other.Date) {
		return b.Date.Before(other.Date)
	}
	return lessUUID(b.ID, other.ID)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Qty is a signed decimal quantity with at least 3 fractional digits of
// range, additive and negatable.
type Qty struct {
	decimal.Decimal
}

// NewQty builds a Qty from an int64 whole-unit count.
func NewQty(v int64) Qty { return Qty{decimal.NewFromInt(v)} }

// QtyFromString parses a decimal string into a Qty.
func QtyFromString(s string) (Qty, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Qty{}, fmt.Errorf("parse qty %q: %w", s, err)
	}
	return Qty{d}, nil
}

// Add returns the sum of two quantities.
func (q Qty) Add(other Qty) Qty { return Qty{q.Decimal.Add(other.Decimal)} }

// Sub returns the difference of two quantities.
func (q Qty) Sub(other Qty) Qty { return Qty{q.Decimal.Sub(other.Decimal)} }

// Neg returns the negation of the quantity.
func (q Qty) Neg() Qty { return Qty{q.Decimal.Neg()} }

// IsZero reports whether the quantity is exactly zero.
func (q Qty) IsZero() bool { return q.Decimal.IsZero() }

// IsPositive reports whether the quantity is strictly greater than zero.
func (q Qty) IsPositive() bool { return q.Decimal.IsPositive() }

// IsNegative reports whether the quantity is strictly less than zero.
func (q Qty) IsNegative() bool { return q.Decimal.IsNegative() }

// Cmp compares two quantities the way decimal.Decimal.Cmp does.
func (q Qty) Cmp(other Qty) int { return q.Decimal.Cmp(other.Decimal) }

// MarshalJSON encodes the quantity as a decimal string.
func (q Qty) MarshalJSON() ([]byte, error) { return q.Decimal.MarshalJSON() }

// UnmarshalJSON decodes a quantity from a decimal string or number.
func (q *Qty) UnmarshalJSON(data []byte) error { return q.Decimal.UnmarshalJSON(data) }

// Cost is a signed money-like decimal with the same algebra as Qty.
type Cost struct {
	decimal.Decimal
}

// NewCost builds a Cost from an int64 whole-unit amount.
func NewCost(v int64) Cost { return Cost{decimal.NewFromInt(v)} }

// CostFromString parses a decimal string into a Cost.
func CostFromString(s string) (Cost, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Cost{}, fmt.Errorf("parse cost %q: %w", s, err)
	}
	return Cost{d}, nil
}

// Add returns the sum of two costs.
func (c Cost) Add(other Cost) Cost { return Cost{c.Decimal.Add(other.Decimal)} }

// Sub returns the difference of two costs.
func (c Cost) Sub(other Cost) Cost { return Cost{c.Decimal.Sub(other.Decimal)} }

// Neg returns the negation of the cost.
func (c Cost) Neg() Cost { return Cost{c.Decimal.Neg()} }

// IsZero reports whether the cost is exactly zero.
func (c Cost) IsZero() bool { return c.Decimal.IsZero() }

// Cmp compares two costs the way decimal.Decimal.Cmp does.
func (c Cost) Cmp(other Cost) int { return c.Decimal.Cmp(other.Decimal) }

// MarshalJSON encodes the cost as a decimal string.
func (c Cost) MarshalJSON() ([]byte, error) { return c.Decimal.MarshalJSON() }

// UnmarshalJSON decodes a cost from a decimal string or number.
func (c *Cost) UnmarshalJSON(data []byte) error { return c.Decimal.UnmarshalJSON(data) }

// BalanceForGoods is the additive, negatable {qty, cost} pair the
// checkpoint and ordered topologies persist.
type BalanceForGoods struct {
	Qty  Qty  `json:"qty"`
	Cost Cost `json:"cost"`
}

// ZeroBalance is the additive identity.
func ZeroBalance() BalanceForGoods {
	return BalanceForGoods{Qty: NewQty(0), Cost: NewCost(0)}
}

// Add returns the sum of two balances.
func (b BalanceForGoods) Add(other BalanceForGoods) BalanceForGoods {
	return BalanceForGoods{Qty: b.Qty.Add(other.Qty), Cost: b.Cost.Add(other.Cost)}
}

// Sub returns the difference of two balances.
func (b BalanceForGoods) Sub(other BalanceForGoods) BalanceForGoods {
	return BalanceForGoods{Qty: b.Qty.Sub(other.Qty), Cost: b.Cost.Sub(other.Cost)}
}

// Neg returns the negation of the balance.
func (b BalanceForGoods) Neg() BalanceForGoods {
	return BalanceForGoods{Qty: b.Qty.Neg(), Cost: b.Cost.Neg()}
}

// IsZero reports whether both components are zero.
func (b BalanceForGoods) IsZero() bool { return b.Qty.IsZero() && b.Cost.IsZero() }

// AvgUnitCost returns Cost/Qty, used to price FIFO batch allocations. It
// returns the zero cost when the quantity is zero.
func (b BalanceForGoods) AvgUnitCost() Cost {
	if b.Qty.IsZero() {
		return NewCost(0)
	}
	return Cost{b.Cost.Decimal.Div(b.Qty.Decimal)}
}

// Mode controls whether an Issue may resolve against a specific batch
// (Auto) or is allowed to drive balance negative (Manual).
type Mode int

const (
	// Auto issues must find a batch with sufficient positive balance.
	Auto Mode = iota
	// Manual issues may drive balance negative.
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "auto"
}

// Kind discriminates the variants of InternalOperation.
type Kind uint8

const (
	KindReceive Kind = iota
	KindIssue
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindReceive:
		return "receive"
	case KindIssue:
		return "issue"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// InternalOperation is a tagged variant, not a subclass hierarchy:
// Receive(qty, cost), Issue(qty, cost, mode), Transfer(qty, cost).
type InternalOperation struct {
	Kind Kind `json:"kind"`
	Qty  Qty  `json:"qty"`
	Cost Cost `json:"cost"`
	Mode Mode `json:"mode,omitempty"`
}

// Receive builds a Receive InternalOperation.
func Receive(qty Qty, cost Cost) InternalOperation {
	return InternalOperation{Kind: KindReceive, Qty: qty, Cost: cost}
}

// Issue builds an Issue InternalOperation with the given resolution mode.
func Issue(qty Qty, cost Cost, mode Mode) InternalOperation {
	return InternalOperation{Kind: KindIssue, Qty: qty, Cost: cost, Mode: mode}
}

// TransferOp builds a Transfer InternalOperation.
func TransferOp(qty Qty, cost Cost) InternalOperation {
	return InternalOperation{Kind: KindTransfer, Qty: qty, Cost: cost}
}

// IsReceive reports whether this is a Receive, the only kind that
// increases balance; the receiving side of a transfer is recorded as a
// separate Receive op.
func (op InternalOperation) IsReceive() bool { return op.Kind == KindReceive }

// IsIssue reports whether this operation decreases balance.
func (op InternalOperation) IsIssue() bool { return op.Kind == KindIssue || op.Kind == KindTransfer }

// IsZero reports whether the operation carries a zero qty component.
func (op InternalOperation) IsZero() bool { return op.Qty.IsZero() }

// Delta returns the signed {qty, cost} change this operation applies to
// a running balance. Receive adds, Issue/Transfer subtract.
func (op InternalOperation) Delta() BalanceForGoods {
	bal := BalanceForGoods{Qty: op.Qty, Cost: op.Cost}
	if op.Kind == KindReceive {
		return bal
	}
	return bal.Neg()
}

// OpOrder is the 1-byte tiebreaker for operations sharing a timestamp:
// receives sort before issues.
func (op InternalOperation) OpOrder() byte {
	if op.Kind == KindReceive {
		return 0x00
	}
	return 0xFF
}

// DependantRef names one coordinate of a dependent child operation
// generated by the op processor while resolving an issue-without-batch.
type DependantRef struct {
	Store   Store `json:"store"`
	Batch   Batch `json:"batch"`
	OpOrder byte  `json:"op_order"`
}

// Op is a single recorded operation in the ordered topology.
type Op struct {
	ID          uuid.UUID          `json:"id"`
	Date        time.Time          `json:"date"`
	Store       Store              `json:"store"`
	Goods       Goods              `json:"goods"`
	Batch       Batch              `json:"batch"`
	Operation   InternalOperation  `json:"op"`
	IsDependent bool               `json:"is_dependent"`
	Dependant   []DependantRef     `json:"dependant,omitempty"`
}

// OpMutation is the delta form of an Op: before/after InternalOperation,
// either of which may be absent (insert has no before, delete has no
// after, update has both).
type OpMutation struct {
	ID     uuid.UUID          `json:"id"`
	Date   time.Time          `json:"date"`
	Store  Store              `json:"store"`
	Goods  Goods              `json:"goods"`
	Batch  Batch              `json:"batch"`
	Before *InternalOperation `json:"before,omitempty"`
	After  *InternalOperation `json:"after,omitempty"`

	// Dependant is populated by the op processor after FIFO resolution
	// so callers can see what children an issue-without-batch produced.
	Dependant []DependantRef `json:"dependant,omitempty"`
}

// Category classifies an OpMutation by comparing Before and After.
type Category int

const (
	// CategoryNoop means before and after are both absent, or equal.
	CategoryNoop Category = iota
	CategoryInsert
	CategoryUpdate
	CategoryDelete
)

// Classify derives the logical category of this mutation.
func (m OpMutation) Classify() Category {
	switch {
	case m.Before == nil && m.After == nil:
		return CategoryNoop
	case m.Before == nil && m.After != nil:
		return CategoryInsert
	case m.Before != nil && m.After == nil:
		return CategoryDelete
	default:
		if opEqual(*m.Before, *m.After) {
			return CategoryNoop
		}
		return CategoryUpdate
	}
}

func opEqual(a, b InternalOperation) bool {
	return a.Kind == b.Kind && a.Mode == b.Mode &&
		a.Qty.Cmp(b.Qty) == 0 && a.Cost.Decimal.Cmp(b.Cost.Decimal) == 0
}

// IsIssueWithoutBatch reports whether the mutation's After is an Issue
// carrying the empty/unspecified batch, pending FIFO resolution.
func (m OpMutation) IsIssueWithoutBatch() bool {
	return m.After != nil && m.After.Kind == KindIssue && m.Batch.IsEmpty()
}

// Balance is a checkpoint or projected stock figure on a date.
type Balance struct {
	Date   time.Time       `json:"date"`
	Store  Store           `json:"store"`
	Goods  Goods           `json:"goods"`
	Batch  Batch           `json:"batch"`
	Number BalanceForGoods `json:"number"`
}

// Document is a versioned JSON body persisted by the document log.
// Tombstone marks a logical delete: the body is the last live version's,
// kept for history, but the document projects no operations.
type Document struct {
	ID        string          `json:"id"`
	Ctx       []string        `json:"ctx"`
	Date      time.Time       `json:"date"`
	Body      json.RawMessage `json:"body"`
	Tombstone bool            `json:"tombstone,omitempty"`
}
