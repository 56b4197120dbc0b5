package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/warehouse/pkg/aggregation"
	"github.com/cuemby/warehouse/pkg/checkpoint"
	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/log"
	"github.com/cuemby/warehouse/pkg/ordered"
	"github.com/cuemby/warehouse/pkg/types"
)

// doctorCmd audits a data directory without mutating it, in the spirit
// of the migration tool's dry-run inspection: open the database
// read-only-by-convention, count what's there, and for --verify, replay
// every checkpointed (store, goods, batch) from the beginning and flag
// any that disagrees with what's actually checkpointed.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Audit a data directory's checkpoints against the ordered log",
	Long: `doctor opens a data directory, reports how many ordered
operations, checkpoints and documents it holds, and — with --verify —
replays each checkpointed (store, goods, batch) from the epoch and
compares the result against the persisted checkpoint balance.

doctor never writes to the data directory.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().Bool("verify", false, "Replay every checkpoint from the epoch and compare")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	verify, _ := cmd.Flags().GetBool("verify")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	db, err := kv.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	checkpoints := checkpoint.New(db)
	watermark, err := checkpoints.GetLatestCheckpointDate()
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	fmt.Printf("latest_checkpoint_date: %s\n", watermark.Format(time.RFC3339))

	entries, err := checkpoints.CheckpointsForAll(watermark)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	fmt.Printf("checkpoints at watermark: %d\n", len(entries))

	opRows, err := db.Range(kv.BucketOrderedOps, nil, nil)
	if err != nil {
		return fmt.Errorf("count ordered operations: %w", err)
	}
	fmt.Printf("ordered operations: %d\n", len(opRows))
	docRows, err := db.Range(kv.BucketDocumentIndex, nil, nil)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	fmt.Printf("documents: %d\n", len(docRows))

	if !verify {
		return nil
	}

	mismatches := 0
	epoch := time.Unix(0, 0).UTC()
	for _, entry := range entries {
		ops, err := topologyOpsForKey(db, entry.Store, entry.Goods, epoch, watermark.Add(time.Second))
		if err != nil {
			return fmt.Errorf("replay %s/%s: %w", entry.Store, entry.Goods, err)
		}
		report := aggregation.Aggregate(nil, filterBatch(ops, entry.Batch), epoch, watermark.Add(time.Second))
		replayed := closeFor(report, entry.Store, entry.Goods, entry.Batch)
		if replayed.Qty.Cmp(entry.BalanceForGoods.Qty) != 0 || replayed.Cost.Cmp(entry.BalanceForGoods.Cost) != 0 {
			mismatches++
			fmt.Printf("MISMATCH store=%s goods=%s batch=%s checkpoint={%s,%s} replay={%s,%s}\n",
				entry.Store, entry.Goods, entry.Batch.ID,
				entry.BalanceForGoods.Qty.String(), entry.BalanceForGoods.Cost.String(),
				replayed.Qty.String(), replayed.Cost.String())
			log.Warn(fmt.Sprintf("checkpoint mismatch for store=%s goods=%s batch=%s", entry.Store, entry.Goods, entry.Batch.ID))
		}
	}
	fmt.Printf("verified %d checkpoint(s), %d mismatch(es)\n", len(entries), mismatches)
	if mismatches > 0 {
		log.Error(fmt.Sprintf("%d checkpoint mismatch(es) found", mismatches))
		return fmt.Errorf("%d checkpoint mismatch(es) found", mismatches)
	}
	return nil
}

func topologyOpsForKey(db *kv.DB, store, goods types.Store, from, till time.Time) ([]types.Op, error) {
	return ordered.New(db).OpsForGoods(store, goods, from, till)
}

func filterBatch(ops []types.Op, batch types.Batch) []types.Op {
	out := make([]types.Op, 0, len(ops))
	for _, op := range ops {
		if op.Batch.ID == batch.ID && op.Batch.Date.Equal(batch.Date) {
			out = append(out, op)
		}
	}
	return out
}

func closeFor(report aggregation.Report, store, goods types.Store, batch types.Batch) types.BalanceForGoods {
	for _, item := range report.Items {
		if item.Key.Store == store && item.Key.Goods == goods && item.Key.Batch.ID == batch.ID && item.Key.Batch.Date.Equal(batch.Date) {
			return item.Close
		}
	}
	return types.ZeroBalance()
}
