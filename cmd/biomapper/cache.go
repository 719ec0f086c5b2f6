package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/cache"
	"github.com/arpanauts/biomapper/internal/types"
)

var (
	addConfidence     float64
	addSource         string
	addTTLDays        int
	addUnidirectional bool

	lookupTargetType    string
	lookupBidirectional bool
	lookupNoDerived     bool
	lookupMinConfidence float64
)

var addCmd = &cobra.Command{
	Use:   "add <source_id> <source_type> <target_id> <target_type>",
	Short: "Add a mapping to the cache (bidirectional by default)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := engine.Cache.AddMapping(cmd.Context(), cache.AddRequest{
			Source:         types.EntityRef{ID: args[0], Type: args[1]},
			Target:         types.EntityRef{ID: args[2], Type: args[3]},
			Confidence:     addConfidence,
			MappingSource:  addSource,
			TTLDays:        addTTLDays,
			Unidirectional: addUnidirectional,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(result)
		}
		fmt.Printf("Added %s/%s -> %s/%s (confidence %.3f)\n",
			args[1], args[0], args[3], args[2], result.Confidence)
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <entity_id> <entity_type>",
	Short: "Look up cached mappings for an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cache.LookupOptions{
			TargetType:     lookupTargetType,
			ExcludeDerived: lookupNoDerived,
			MinConfidence:  lookupMinConfidence,
		}
		var results []*types.MappingResult
		var err error
		if lookupBidirectional {
			results, err = engine.Cache.BidirectionalLookup(cmd.Context(), args[0], args[1], opts)
		} else {
			results, err = engine.Cache.Lookup(cmd.Context(), args[0], args[1], opts)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No cached mappings.")
			return nil
		}
		for _, r := range results {
			tag := ""
			if r.Metadata["derived"] == "true" {
				tag = " [derived]"
			}
			fmt.Printf("%s -> %s/%s (confidence %.3f, source %s)%s\n",
				r.SourceID, r.TargetType, r.TargetID, r.Confidence, r.MappingSource, tag)
		}
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Delete cached mappings past their TTL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		deleted, err := engine.Cache.DeleteExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d expired mapping(s)\n", deleted)
		return nil
	},
}

func init() {
	addCmd.Flags().Float64Var(&addConfidence, "confidence", 1.0, "mapping confidence in [0,1]")
	addCmd.Flags().StringVar(&addSource, "source", "manual", "mapping provenance label")
	addCmd.Flags().IntVar(&addTTLDays, "ttl-days", 0, "override TTL in days (0 = configured default)")
	addCmd.Flags().BoolVar(&addUnidirectional, "unidirectional", false, "skip the reverse row")

	lookupCmd.Flags().StringVar(&lookupTargetType, "target-type", "", "restrict to one target ontology")
	lookupCmd.Flags().BoolVar(&lookupBidirectional, "bidirectional", false, "also match the entity as a target")
	lookupCmd.Flags().BoolVar(&lookupNoDerived, "no-derived", false, "exclude derived rows")
	lookupCmd.Flags().Float64Var(&lookupMinConfidence, "min-confidence", 0, "minimum confidence")

	rootCmd.AddCommand(addCmd, lookupCmd, expireCmd)
}
