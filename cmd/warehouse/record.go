package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/warehouse/pkg/log"
	"github.com/cuemby/warehouse/pkg/types"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single receive/issue/transfer operation",
	Long: `record submits one OpMutation directly to the op processor,
bypassing the document log. Useful for scripting and smoke-testing a
data directory; documents remain the normal way operations enter the
system.

Leave --batch-id/--batch-date empty on an issue to request FIFO
resolution across the goods' batches in this store.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().String("kind", "", "receive, issue or transfer (required)")
	recordCmd.Flags().String("store", "", "Store UUID (required)")
	recordCmd.Flags().String("goods", "", "Goods UUID (required)")
	recordCmd.Flags().String("batch-id", "", "Batch UUID")
	recordCmd.Flags().String("batch-date", "", "Batch date (YYYY-MM-DD)")
	recordCmd.Flags().String("date", "", "Operation date (YYYY-MM-DD or RFC3339, required)")
	recordCmd.Flags().String("qty", "", "Quantity (required)")
	recordCmd.Flags().String("cost", "0", "Cost")
	recordCmd.Flags().String("mode", "auto", "Issue resolution mode: auto or manual")
	_ = recordCmd.MarkFlagRequired("kind")
	_ = recordCmd.MarkFlagRequired("store")
	_ = recordCmd.MarkFlagRequired("goods")
	_ = recordCmd.MarkFlagRequired("date")
	_ = recordCmd.MarkFlagRequired("qty")
}

func runRecord(cmd *cobra.Command, args []string) error {
	kindStr, _ := cmd.Flags().GetString("kind")
	storeStr, _ := cmd.Flags().GetString("store")
	goodsStr, _ := cmd.Flags().GetString("goods")
	batchID, _ := cmd.Flags().GetString("batch-id")
	batchDate, _ := cmd.Flags().GetString("batch-date")
	dateStr, _ := cmd.Flags().GetString("date")
	qtyStr, _ := cmd.Flags().GetString("qty")
	costStr, _ := cmd.Flags().GetString("cost")
	modeStr, _ := cmd.Flags().GetString("mode")

	store, err := parseUUID(storeStr)
	if err != nil {
		return fmt.Errorf("parse store: %w", err)
	}
	goods, err := parseUUID(goodsStr)
	if err != nil {
		return fmt.Errorf("parse goods: %w", err)
	}
	batch, err := parseBatch(batchID, batchDate)
	if err != nil {
		return err
	}
	date, err := parseDate(dateStr)
	if err != nil {
		return err
	}
	qty, err := types.QtyFromString(qtyStr)
	if err != nil {
		return err
	}
	cost, err := types.CostFromString(costStr)
	if err != nil {
		return err
	}
	mode, err := parseMode(modeStr)
	if err != nil {
		return err
	}

	op, err := buildOperation(kindStr, qty, cost, mode)
	if err != nil {
		return err
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	results, err := eng.RecordOps([]types.OpMutation{{
		ID:    uuid.New(),
		Date:  date,
		Store: store,
		Goods: goods,
		Batch: batch,
		After: &op,
	}})
	if err != nil {
		return err
	}

	for _, m := range results {
		fmt.Printf("op=%s batch=%s classify=%v\n", m.ID, m.Batch.ID, m.Classify())
		for _, dep := range m.Dependant {
			fmt.Printf("  dependant: store=%s batch=%s op_order=0x%02x\n", dep.Store, dep.Batch.ID, dep.OpOrder)
		}
	}
	log.Debug(fmt.Sprintf("record: applied %d mutation(s)", len(results)))
	return nil
}

func parseMode(s string) (types.Mode, error) {
	switch s {
	case "", "auto":
		return types.Auto, nil
	case "manual":
		return types.Manual, nil
	default:
		return types.Auto, fmt.Errorf("unknown mode %q: want auto or manual", s)
	}
}

func buildOperation(kind string, qty types.Qty, cost types.Cost, mode types.Mode) (types.InternalOperation, error) {
	switch kind {
	case "receive":
		return types.Receive(qty, cost), nil
	case "issue":
		return types.Issue(qty, cost, mode), nil
	case "transfer":
		return types.TransferOp(qty, cost), nil
	default:
		return types.InternalOperation{}, fmt.Errorf("unknown kind %q: want receive, issue or transfer", kind)
	}
}
