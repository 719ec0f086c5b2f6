package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statsFrom string
	statsTo   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := engine.Cache.CacheStats(cmd.Context(), statsFrom, statsTo)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}
		if len(stats) == 0 {
			fmt.Println("No statistics recorded.")
			return nil
		}
		fmt.Printf("%-12s %8s %8s %8s %8s %8s %8s\n",
			"date", "hits", "misses", "direct", "derived", "api", "transit")
		for _, s := range stats {
			fmt.Printf("%-12s %8d %8d %8d %8d %8d %8d\n",
				s.Date, s.Hits, s.Misses, s.DirectLookups, s.DerivedLookups,
				s.APICalls, s.TransitiveDerivations)
		}
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show in-process monitor counters and recent events",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		counters := engine.Monitor.Counters()
		recent := engine.Monitor.Recent()
		if len(recent) > 20 {
			recent = recent[len(recent)-20:]
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{
				"counters": counters,
				"recent":   recent,
			})
		}
		if len(counters) == 0 {
			fmt.Println("No events recorded this session.")
			return nil
		}
		for typ, n := range counters {
			fmt.Printf("%-10s %d\n", typ, n)
		}
		for _, e := range recent {
			fmt.Printf("  %s %s %s\n", formatTime(e.Timestamp), e.Type, e.EntityType)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "start day (YYYY-MM-DD, inclusive)")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "end day (YYYY-MM-DD, inclusive)")
	rootCmd.AddCommand(statsCmd, monitorCmd)
}
