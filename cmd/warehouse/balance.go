package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/warehouse/pkg/log"
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print a goods balance for a store as of a date",
	Long: `balance reports the projected {qty, cost} for one (store, goods,
batch) as of a given date, resolving through the nearest checkpoint and
replaying the ordered topology forward from there.

Omit --batch-id/--batch-date to report the balance summed across every
batch of the goods in the store.`,
	RunE: runBalance,
}

func init() {
	balanceCmd.Flags().String("store", "", "Store UUID (required)")
	balanceCmd.Flags().String("goods", "", "Goods UUID (required)")
	balanceCmd.Flags().String("batch-id", "", "Batch UUID")
	balanceCmd.Flags().String("batch-date", "", "Batch date (YYYY-MM-DD)")
	balanceCmd.Flags().String("date", "", "As-of date (YYYY-MM-DD or RFC3339, required)")
	_ = balanceCmd.MarkFlagRequired("store")
	_ = balanceCmd.MarkFlagRequired("goods")
	_ = balanceCmd.MarkFlagRequired("date")
}

func runBalance(cmd *cobra.Command, args []string) error {
	storeStr, _ := cmd.Flags().GetString("store")
	goodsStr, _ := cmd.Flags().GetString("goods")
	batchID, _ := cmd.Flags().GetString("batch-id")
	batchDate, _ := cmd.Flags().GetString("batch-date")
	dateStr, _ := cmd.Flags().GetString("date")

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

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	balance, err := eng.BalanceOn(store, goods, batch, date)
	if err != nil {
		log.Errorf(fmt.Sprintf("balance_on store=%s goods=%s", store, goods), err)
		return err
	}

	fmt.Printf("qty:  %s\n", balance.Qty.String())
	fmt.Printf("cost: %s\n", balance.Cost.String())
	fmt.Printf("avg:  %s\n", balance.AvgUnitCost().String())
	return nil
}
