package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/warehouse/pkg/aggregation"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print an open/receive/issue/close rollup for a window",
	Long: `report rolls up open/receive/issue/close balances over [--from,
--till). With --goods it narrows to one (store, goods[, batch]) line;
without it, every goods/batch the store touched in the window.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("store", "", "Store UUID (required)")
	reportCmd.Flags().String("goods", "", "Goods UUID (narrows to one goods line)")
	reportCmd.Flags().String("batch-id", "", "Batch UUID (requires --goods)")
	reportCmd.Flags().String("batch-date", "", "Batch date (requires --goods)")
	reportCmd.Flags().String("from", "", "Window start (YYYY-MM-DD or RFC3339, required)")
	reportCmd.Flags().String("till", "", "Window end, exclusive (YYYY-MM-DD or RFC3339, required)")
	_ = reportCmd.MarkFlagRequired("store")
	_ = reportCmd.MarkFlagRequired("from")
	_ = reportCmd.MarkFlagRequired("till")
}

func runReport(cmd *cobra.Command, args []string) error {
	storeStr, _ := cmd.Flags().GetString("store")
	goodsStr, _ := cmd.Flags().GetString("goods")
	batchID, _ := cmd.Flags().GetString("batch-id")
	batchDate, _ := cmd.Flags().GetString("batch-date")
	fromStr, _ := cmd.Flags().GetString("from")
	tillStr, _ := cmd.Flags().GetString("till")

	store, err := parseUUID(storeStr)
	if err != nil {
		return fmt.Errorf("parse store: %w", err)
	}
	from, err := parseDate(fromStr)
	if err != nil {
		return err
	}
	till, err := parseDate(tillStr)
	if err != nil {
		return err
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	if goodsStr == "" {
		report, err := eng.ReportForStore(store, from, till)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}

	goods, err := parseUUID(goodsStr)
	if err != nil {
		return fmt.Errorf("parse goods: %w", err)
	}
	batch, err := parseBatch(batchID, batchDate)
	if err != nil {
		return err
	}
	report, err := eng.ReportForGoods(store, goods, batch, from, till)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func printReport(report aggregation.Report) {
	for _, item := range report.Items {
		fmt.Printf("store=%s goods=%s batch=%s\n", item.Key.Store, item.Key.Goods, item.Key.Batch.ID)
		fmt.Printf("  open:    qty=%s cost=%s\n", item.Open.Qty.String(), item.Open.Cost.String())
		fmt.Printf("  receive: qty=%s cost=%s\n", item.Receive.Qty.String(), item.Receive.Cost.String())
		fmt.Printf("  issue:   qty=%s cost=%s\n", item.Issue.Qty.String(), item.Issue.Cost.String())
		fmt.Printf("  close:   qty=%s cost=%s\n", item.Close.Qty.String(), item.Close.Cost.String())
	}
	if rolled := aggregation.RollupByGoods(report); len(rolled) < len(report.Items) {
		for _, g := range rolled {
			fmt.Printf("store=%s goods=%s all batches\n", g.Key.Store, g.Key.Goods)
			fmt.Printf("  open:    qty=%s cost=%s\n", g.Open.Qty.String(), g.Open.Cost.String())
			fmt.Printf("  receive: qty=%s cost=%s\n", g.Receive.Qty.String(), g.Receive.Cost.String())
			fmt.Printf("  issue:   qty=%s cost=%s\n", g.Issue.Qty.String(), g.Issue.Cost.String())
			fmt.Printf("  close:   qty=%s cost=%s\n", g.Close.Qty.String(), g.Close.Cost.String())
		}
	}
	for _, total := range aggregation.RollupByStore(report) {
		fmt.Printf("store=%s total\n", total.Key.Store)
		fmt.Printf("  open:    qty=%s cost=%s\n", total.Open.Qty.String(), total.Open.Cost.String())
		fmt.Printf("  receive: qty=%s cost=%s\n", total.Receive.Qty.String(), total.Receive.Cost.String())
		fmt.Printf("  issue:   qty=%s cost=%s\n", total.Issue.Qty.String(), total.Issue.Cost.String())
		fmt.Printf("  close:   qty=%s cost=%s\n", total.Close.Qty.String(), total.Close.Cost.String())
	}
}
