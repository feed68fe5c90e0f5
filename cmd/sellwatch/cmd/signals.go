package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sellwatch/journal"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Show recent audit journal records",
	RunE:  runSignals,
}

var signalsCount int

func init() {
	rootCmd.AddCommand(signalsCmd)
	signalsCmd.Flags().IntVarP(&signalsCount, "count", "n", 20, "number of records to show")
}

func runSignals(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.Recent(signalsCount)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no records")
		return nil
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %-8s %-11s", r.Time.Format("2006-01-02 15:04:05"), r.Instrument, r.Decision)
		if r.MAType != "" {
			line += fmt.Sprintf("  %s%d@%s close=%.2f ma=%.2f", r.MAType, r.MALength, r.Timeframe, r.Close, r.MAValue)
		}
		if r.Reason != "" {
			line += "  " + r.Reason
		}
		if r.OrderID != "" {
			line += "  order=" + r.OrderID
		}
		fmt.Println(line)
	}
	return nil
}
