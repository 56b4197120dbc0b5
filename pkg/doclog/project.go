package doclog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/warehouse/pkg/metrics"
	"github.com/cuemby/warehouse/pkg/types"
)

// goodsLine is one line of a receive/issue/transfer document body.
// Batch is optional: absent on a receive line it mints a fresh batch;
// absent on an issue line it requests FIFO resolution.
type goodsLine struct {
	Goods uuid.UUID  `json:"goods"`
	Batch *lineBatch `json:"batch,omitempty"`
	Qty   types.Qty  `json:"qty"`
	Cost  types.Cost `json:"cost"`
	Mode  types.Mode `json:"mode,omitempty"`
}

type lineBatch struct {
	ID   uuid.UUID `json:"id"`
	Date time.Time `json:"date"`
}

// lineDocument is the decoded shape of a warehouse document body: a
// single store (receive/issue) or a from/to pair (transfer), a date,
// and the per-goods lines ported from tests/app_move.rs's `goods` array.
type lineDocument struct {
	Store     uuid.UUID   `json:"store"`
	FromStore uuid.UUID   `json:"from_store"`
	ToStore   uuid.UUID   `json:"to_store"`
	Goods     []goodsLine `json:"goods"`
}

// Project compares next against prev (nil for a brand-new document, or
// a prior Tombstone version) and emits one OpMutation per goods line.
// A document whose ctx doesn't end in receive/issue/transfer isn't a
// warehouse movement and projects to nothing.
func Project(prev, next *types.Document) ([]types.OpMutation, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DocumentProjectionDuration)

	if next == nil {
		return nil, fmt.Errorf("doclog: project requires a document")
	}
	kind := classify(next.Ctx)
	if kind == "" {
		return nil, nil
	}
	// A tombstone's removal mutations target the ops at the date they
	// were recorded under, which is the last live version's date.
	if next.Tombstone && prev != nil {
		atPrevDate := *next
		atPrevDate.Date = prev.Date
		next = &atPrevDate
	}

	var nextBody lineDocument
	if !next.Tombstone {
		if err := json.Unmarshal(next.Body, &nextBody); err != nil {
			return nil, fmt.Errorf("doclog: decode document %s: %w", next.ID, err)
		}
	}
	var prevBody lineDocument
	if prev != nil && !prev.Tombstone {
		if err := json.Unmarshal(prev.Body, &prevBody); err != nil {
			return nil, fmt.Errorf("doclog: decode document %s: %w", prev.ID, err)
		}
	}

	n := len(nextBody.Goods)
	if len(prevBody.Goods) > n {
		n = len(prevBody.Goods)
	}

	var mutations []types.OpMutation
	for idx := 0; idx < n; idx++ {
		var oldLine, newLine *goodsLine
		if idx < len(prevBody.Goods) {
			oldLine = &prevBody.Goods[idx]
		}
		if idx < len(nextBody.Goods) {
			newLine = &nextBody.Goods[idx]
		}
		muts, err := buildLineMutations(kind, next, prevBody, nextBody, idx, oldLine, newLine)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, muts...)
	}
	return mutations, nil
}

func classify(ctx []string) string {
	if len(ctx) == 0 {
		return ""
	}
	switch ctx[len(ctx)-1] {
	case "receive", "issue", "transfer":
		return ctx[len(ctx)-1]
	default:
		return ""
	}
}

func buildLineMutations(kind string, doc *types.Document, prevBody, nextBody lineDocument, idx int, oldLine, newLine *goodsLine) ([]types.OpMutation, error) {
	goods := lineGoods(oldLine, newLine)

	switch kind {
	case "receive":
		store := nextBody.Store
		if store == uuid.Nil && oldLine != nil {
			store = prevBody.Store
		}
		batch, err := resolveMintedBatch(doc, idx, newLine, oldLine)
		if err != nil {
			return nil, err
		}
		return []types.OpMutation{{
			ID:     lineOpID(doc, idx, "receive"),
			Date:   doc.Date,
			Store:  store,
			Goods:  goods,
			Batch:  batch,
			Before: opFromLine(types.KindReceive, oldLine),
			After:  opFromLine(types.KindReceive, newLine),
		}}, nil

	case "issue":
		store := nextBody.Store
		if store == uuid.Nil && oldLine != nil {
			store = prevBody.Store
		}
		return []types.OpMutation{{
			ID:     lineOpID(doc, idx, "issue"),
			Date:   doc.Date,
			Store:  store,
			Goods:  goods,
			Batch:  explicitBatch(newLine, oldLine),
			Before: opFromLine(types.KindIssue, oldLine),
			After:  opFromLine(types.KindIssue, newLine),
		}}, nil

	case "transfer":
		fromStore, toStore := nextBody.FromStore, nextBody.ToStore
		if fromStore == uuid.Nil && oldLine != nil {
			fromStore, toStore = prevBody.FromStore, prevBody.ToStore
		}
		batch, err := resolveMintedBatch(doc, idx, newLine, oldLine)
		if err != nil {
			return nil, err
		}
		out := types.OpMutation{
			ID:     lineOpID(doc, idx, "transfer-out"),
			Date:   doc.Date,
			Store:  fromStore,
			Goods:  goods,
			Batch:  batch,
			Before: opFromLine(types.KindTransfer, oldLine),
			After:  opFromLine(types.KindTransfer, newLine),
		}
		in := types.OpMutation{
			ID:     lineOpID(doc, idx, "transfer-in"),
			Date:   doc.Date,
			Store:  toStore,
			Goods:  goods,
			Batch:  batch,
			Before: opFromLine(types.KindReceive, oldLine),
			After:  opFromLine(types.KindReceive, newLine),
		}
		return []types.OpMutation{out, in}, nil

	default:
		return nil, nil
	}
}

func lineGoods(oldLine, newLine *goodsLine) uuid.UUID {
	if newLine != nil {
		return newLine.Goods
	}
	if oldLine != nil {
		return oldLine.Goods
	}
	return uuid.Nil
}

// opFromLine builds the InternalOperation a goods line represents under
// the context's kind, or nil if the line itself is absent (the line was
// inserted or removed between document versions).
func opFromLine(kind types.Kind, line *goodsLine) *types.InternalOperation {
	if line == nil {
		return nil
	}
	op := types.InternalOperation{Kind: kind, Qty: line.Qty, Cost: line.Cost}
	if kind == types.KindIssue {
		op.Mode = line.Mode
	}
	return &op
}

// explicitBatch carries an issue line's batch hint through unchanged;
// an absent hint on both versions leaves the empty batch for the op
// processor's FIFO resolution.
func explicitBatch(newLine, oldLine *goodsLine) types.Batch {
	if newLine != nil && newLine.Batch != nil {
		return types.Batch{ID: newLine.Batch.ID, Date: newLine.Batch.Date}
	}
	if oldLine != nil && oldLine.Batch != nil {
		return types.Batch{ID: oldLine.Batch.ID, Date: oldLine.Batch.Date}
	}
	return types.Batch{}
}

// resolveMintedBatch carries an explicit batch hint through, or mints a
// deterministic one keyed by (doc id, line index) so a receive or
// transfer line that never named a batch still gets a stable lot across
// re-submissions of the same document.
func resolveMintedBatch(doc *types.Document, idx int, newLine, oldLine *goodsLine) (types.Batch, error) {
	if b := explicitBatch(newLine, oldLine); !b.IsEmpty() {
		return b, nil
	}
	_, firstWriteTS, err := splitID(doc.ID)
	if err != nil {
		return types.Batch{}, err
	}
	created, err := time.Parse(timestampLayout, firstWriteTS)
	if err != nil {
		return types.Batch{}, fmt.Errorf("doclog: document %s: %w", doc.ID, err)
	}
	return types.Batch{
		ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#batch#%d", doc.ID, idx))),
		Date: created,
	}, nil
}

func lineOpID(doc *types.Document, idx int, suffix string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%s#%d", doc.ID, suffix, idx)))
}
