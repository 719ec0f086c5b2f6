package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/transitive"
)

var (
	deriveMinConfidence float64
	deriveMaxChain      int
	deriveDecay         float64
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive transitive mappings from the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		builder := transitive.NewBuilder(engine.Store, engine.Cache,
			transitive.WithMonitor(engine.Monitor))
		job, err := builder.Run(cmd.Context(), transitive.Params{
			MinConfidence:   deriveMinConfidence,
			MaxChainLength:  deriveMaxChain,
			ConfidenceDecay: deriveDecay,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(job)
		}
		fmt.Printf("Job %s: %s\n", job.JobID, job.Status)
		fmt.Printf("  processed %d mappings, created %d, in %.2fs\n",
			job.MappingsProcessed, job.NewMappings, job.DurationSeconds)
		return nil
	},
}

func init() {
	deriveCmd.Flags().Float64Var(&deriveMinConfidence, "min-confidence", 0.5, "confidence floor for inputs and outputs")
	deriveCmd.Flags().IntVar(&deriveMaxChain, "max-chain-length", 2, "longest composition chain")
	deriveCmd.Flags().Float64Var(&deriveDecay, "decay", 0.9, "confidence decay per composed hop")
	rootCmd.AddCommand(deriveCmd)
}
