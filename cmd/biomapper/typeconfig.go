package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/types"
)

var typeConfigThreshold float64

var typeConfigCmd = &cobra.Command{
	Use:   "type-config",
	Short: "Per-type-pair cache defaults (TTL, confidence threshold)",
}

var typeConfigSetCmd = &cobra.Command{
	Use:   "set <source_type> <target_type> <ttl_days>",
	Short: "Set defaults for a type pair",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, err := strconv.Atoi(args[2])
		if err != nil || ttl <= 0 {
			return fmt.Errorf("ttl_days must be a positive integer")
		}
		cfg := &types.EntityTypeConfig{
			SourceType:          args[0],
			TargetType:          args[1],
			TTLDays:             ttl,
			ConfidenceThreshold: typeConfigThreshold,
		}
		if err := engine.Cache.SetEntityTypeConfig(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Printf("%s -> %s: ttl %d days, threshold %.2f\n",
			cfg.SourceType, cfg.TargetType, cfg.TTLDays, cfg.ConfidenceThreshold)
		return nil
	},
}

var typeConfigShowCmd = &cobra.Command{
	Use:   "show <source_type> <target_type>",
	Short: "Show defaults for a type pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := engine.Cache.EntityTypeConfig(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if cfg == nil {
			fmt.Printf("%s -> %s: no explicit config (ttl defaults to %d days)\n",
				args[0], args[1], types.DefaultTTLDays)
			return nil
		}
		if jsonOutput {
			return printJSON(cfg)
		}
		fmt.Printf("%s -> %s: ttl %d days, threshold %.2f\n",
			cfg.SourceType, cfg.TargetType, cfg.TTLDays, cfg.ConfidenceThreshold)
		return nil
	},
}

func init() {
	typeConfigSetCmd.Flags().Float64Var(&typeConfigThreshold, "threshold", 0, "default confidence threshold")
	typeConfigCmd.AddCommand(typeConfigSetCmd, typeConfigShowCmd)
	rootCmd.AddCommand(typeConfigCmd)
}
