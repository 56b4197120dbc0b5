package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/warehouse/pkg/engine"
	"github.com/cuemby/warehouse/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err.Error())
	}
}

var rootCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Warehouse - an ordered-key inventory engine",
	Long: `Warehouse tracks goods balances across stores and batches from a
document log of receive/issue/transfer operations, replaying them
through an ordered topology and month-boundary checkpoints.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("warehouse version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "/var/lib/warehouse", "Data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(doctorCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	log.Info(fmt.Sprintf("warehouse %s (%s) starting", Version, Commit))
}

// openEngine opens the engine at the --data-dir flag's path. Callers
// are responsible for closing it.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return engine.Open(dataDir)
}
