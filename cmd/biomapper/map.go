package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/dispatch"
)

var (
	mapResource       string
	mapNoFallback     bool
	mapMinConfidence  float64
	mapMinSuccessRate float64
	mapTimeout        time.Duration
)

var mapCmd = &cobra.Command{
	Use:   "map <source_id> <source_type> <target_type>",
	Short: "Map an identifier to a target ontology via ranked resources",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engine.Dispatcher.MapEntity(cmd.Context(), args[0], args[1], args[2], dispatch.MapOptions{
			ResourceName:   mapResource,
			NoFallback:     mapNoFallback,
			MinConfidence:  mapMinConfidence,
			MinSuccessRate: mapMinSuccessRate,
			Timeout:        mapTimeout,
		})
		if err != nil {
			return err
		}
		if result == nil {
			fmt.Printf("No mapping found for %s/%s -> %s\n", args[1], args[0], args[2])
			return nil
		}
		if jsonOutput {
			return printJSON(result)
		}
		fmt.Printf("%s/%s -> %s/%s (confidence %.3f, source %s)\n",
			args[1], result.SourceID, result.TargetType, result.TargetID,
			result.Confidence, result.MappingSource)
		if res := result.Metadata["resource"]; res != "" {
			fmt.Printf("  served by %s in %sms\n", res, result.Metadata["response_time_ms"])
		}
		return nil
	},
}

func init() {
	mapCmd.Flags().StringVar(&mapResource, "resource", "", "pin to a single resource")
	mapCmd.Flags().BoolVar(&mapNoFallback, "no-fallback", false, "fail on the first resource error")
	mapCmd.Flags().Float64Var(&mapMinConfidence, "min-confidence", 0, "minimum result confidence")
	mapCmd.Flags().Float64Var(&mapMinSuccessRate, "min-success-rate", 0, "drop resources below this success rate")
	mapCmd.Flags().DurationVar(&mapTimeout, "timeout", 0, "per-resource timeout (e.g. 5s)")
	rootCmd.AddCommand(mapCmd)
}
