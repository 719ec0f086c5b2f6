package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/types"
)

var (
	resourcesActiveOnly bool
	resourcesShowPerf   bool

	registerType     string
	registerPriority int
	registerInactive bool
	registerConnInfo string

	coverageCount int64
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Manage the resource registry",
}

var resourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered resources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resources, err := engine.Registry.ListResources(cmd.Context(), resourcesActiveOnly)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(resources)
		}
		if len(resources) == 0 {
			fmt.Println("No resources registered.")
			return nil
		}
		for _, r := range resources {
			state := "active"
			if !r.IsActive {
				state = "inactive"
			}
			fmt.Printf("%-12s %-8s priority=%d %s\n", r.Name, r.Type, r.Priority, state)
			if resourcesShowPerf {
				metrics, err := engine.Registry.PerformanceMetrics(cmd.Context(),
					storage.PerformanceFilter{ResourceName: r.Name})
				if err != nil {
					return err
				}
				for _, m := range metrics {
					fmt.Printf("    %s %s->%s: %.0fms avg, %.0f%% success, %d samples\n",
						m.OperationType, m.SourceType, m.TargetType,
						m.AvgResponseMS, m.SuccessRate*100, m.SampleCount)
				}
			}
		}
		return nil
	},
}

var resourcesRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register or update a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta := &types.ResourceMetadata{
			Name:     args[0],
			Type:     types.ResourceType(registerType),
			Priority: registerPriority,
			IsActive: !registerInactive,
		}
		if registerConnInfo != "" {
			if !json.Valid([]byte(registerConnInfo)) {
				return fmt.Errorf("connection info must be valid JSON")
			}
			meta.ConnectionInfo = json.RawMessage(registerConnInfo)
		}
		if err := meta.Validate(); err != nil {
			return err
		}
		if err := engine.Registry.RegisterResource(cmd.Context(), meta); err != nil {
			return err
		}
		fmt.Printf("Registered %s (%s, priority %d)\n", meta.Name, meta.Type, meta.Priority)
		return nil
	},
}

var resourcesCoverageCmd = &cobra.Command{
	Use:   "coverage <name> <ontology> <none|partial|full>",
	Short: "Declare a resource's ontology coverage",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var count *int64
		if coverageCount > 0 {
			count = &coverageCount
		}
		level := supportLevel(args[2])
		if err := engine.Registry.RegisterOntologyCoverage(cmd.Context(), args[0], args[1], level, count); err != nil {
			return err
		}
		fmt.Printf("%s covers %s at %s\n", args[0], args[1], level)
		return nil
	},
}

var resourcesRankCmd = &cobra.Command{
	Use:   "rank <source_type> <target_type>",
	Short: "Show the ranked resource order for a type pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ranked, err := engine.Registry.PreferredResourceOrder(cmd.Context(), args[0], args[1], "map_entity", 0)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ranked)
		}
		if len(ranked) == 0 {
			fmt.Println("No eligible resources.")
			return nil
		}
		for i, name := range ranked {
			fmt.Printf("%d. %s\n", i+1, name)
		}
		return nil
	},
}

var resourcesClearLogsCmd = &cobra.Command{
	Use:   "clear-logs [days]",
	Short: "Delete operation logs, optionally older than N days",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days := 0
		if len(args) == 1 {
			var err error
			days, err = strconv.Atoi(args[0])
			if err != nil || days < 0 {
				return fmt.Errorf("days must be a non-negative integer")
			}
		}
		deleted, err := engine.Registry.ClearOperationLogs(cmd.Context(), days, "")
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d log entries\n", deleted)
		return nil
	},
}

func init() {
	resourcesListCmd.Flags().BoolVar(&resourcesActiveOnly, "active", false, "only active resources")
	resourcesListCmd.Flags().BoolVar(&resourcesShowPerf, "perf", false, "include performance aggregates")

	resourcesRegisterCmd.Flags().StringVar(&registerType, "type", "api", "resource type (cache|graph|api|dataset|other)")
	resourcesRegisterCmd.Flags().IntVar(&registerPriority, "priority", 1, "ranking priority (higher wins)")
	resourcesRegisterCmd.Flags().BoolVar(&registerInactive, "inactive", false, "register as inactive")
	resourcesRegisterCmd.Flags().StringVar(&registerConnInfo, "connection", "", "connection info as JSON")

	resourcesCoverageCmd.Flags().Int64Var(&coverageCount, "entities", 0, "known entity count for this ontology")

	resourcesCmd.AddCommand(resourcesListCmd, resourcesRegisterCmd, resourcesCoverageCmd,
		resourcesRankCmd, resourcesClearLogsCmd)
	rootCmd.AddCommand(resourcesCmd)
}
