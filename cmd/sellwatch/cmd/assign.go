package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sellwatch/assign"
	"github.com/rustyeddy/sellwatch/config"
	"github.com/rustyeddy/sellwatch/indicators"
)

var assignCmd = &cobra.Command{
	Use:   "assign [TICKER]",
	Short: "Assign a moving average to a held instrument",
	Long: `Assign which moving average gates the exit for one instrument, or
list the current assignments.

Examples:
  sellwatch assign IBM --type sma --length 50 --timeframe 1H
  sellwatch assign AAPL --type ema --length 20 --timeframe 1D
  sellwatch assign --list`,
	RunE: runAssign,
}

var (
	assignType      string
	assignLength    int
	assignTimeframe string
	assignList      bool
)

func init() {
	rootCmd.AddCommand(assignCmd)

	assignCmd.Flags().StringVar(&assignType, "type", "", "moving average type (sma|ema)")
	assignCmd.Flags().IntVar(&assignLength, "length", 0, "moving average length (5,10,20,50,100,150,200)")
	assignCmd.Flags().StringVar(&assignTimeframe, "timeframe", "", "bar timeframe (1H|1D)")
	assignCmd.Flags().BoolVar(&assignList, "list", false, "list current assignments")
}

func runAssign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := assign.NewStore(cfg.Paths.AssignmentsFile)

	if assignList {
		return listAssignments(store, cfg)
	}

	if len(args) != 1 {
		return fmt.Errorf("exactly one ticker required (or use --list)")
	}
	typ, err := indicators.ParseType(assignType)
	if err != nil {
		return err
	}
	tf, err := assign.NormalizeTimeframe(assignTimeframe)
	if err != nil {
		return err
	}
	a := assign.Assignment{
		Ticker:    strings.ToUpper(args[0]),
		Type:      typ,
		Length:    assignLength,
		Timeframe: tf,
	}
	if err := store.Set(a); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", a.Ticker, a)
	return nil
}

func listAssignments(store *assign.Store, cfg *config.Config) error {
	rows, bad, err := store.Load()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("no assignments in %s\n", cfg.Paths.AssignmentsFile)
		return nil
	}
	for _, row := range rows {
		fmt.Printf("%-8s %s\n", row.Ticker, row)
	}
	for _, b := range bad {
		fmt.Printf("warning: skipped %v\n", b)
	}
	return nil
}
