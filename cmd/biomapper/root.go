package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arpanauts/biomapper"
	"github.com/arpanauts/biomapper/internal/adapter/api"
	"github.com/arpanauts/biomapper/internal/adapter/cacheadapter"
	"github.com/arpanauts/biomapper/internal/adapter/graph"
	"github.com/arpanauts/biomapper/internal/rag"
	"github.com/arpanauts/biomapper/internal/telemetry"
	"github.com/arpanauts/biomapper/internal/types"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

var (
	cfgFile    string
	dbPath     string
	jsonOutput bool

	engine *biomapper.Engine
)

var rootCmd = &cobra.Command{
	Use:           "biomapper",
	Short:         "Harmonize biological identifiers across ontologies",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(); err != nil {
			return err
		}

		if err := telemetry.Init(cmd.Context(), "biomapper", version); err != nil {
			log.Printf("telemetry init failed: %v", err)
		}

		store, err := biomapper.NewStore(cmd.Context(), dbPath)
		if err != nil {
			return fmt.Errorf("open database %s: %w", dbPath, err)
		}
		engine = biomapper.NewEngine(store)
		return registerAdapters(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if engine != nil {
			if err := engine.Store.Close(); err != nil {
				log.Printf("close database: %v", err)
			}
		}
		telemetry.Shutdown(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./biomapper.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: ./biomapper.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON instead of text")
}

// loadConfig reads the config file (if any) and resolves the database path:
// flag over config over default.
func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("biomapper")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("BIOMAPPER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if dbPath == "" {
		dbPath = viper.GetString("db")
	}
	if dbPath == "" {
		dbPath = "biomapper.db"
	}
	return nil
}

// registerAdapters wires the cache adapter unconditionally, plus any API and
// graph adapters declared in config. The resources themselves must be
// registered (biomapper resources register) before they rank.
func registerAdapters(cmd *cobra.Command) error {
	engine.Dispatcher.RegisterAdapter(cacheadapter.New("", engine.Cache))

	var apiConfigs []api.Config
	if err := viper.UnmarshalKey("api_adapters", &apiConfigs); err != nil {
		return fmt.Errorf("parse api_adapters config: %w", err)
	}
	for _, cfg := range apiConfigs {
		adapter, err := api.New(cfg)
		if err != nil {
			return err
		}
		engine.Dispatcher.RegisterAdapter(adapter)
	}

	if viper.IsSet("graph") {
		var graphCfg struct {
			graph.Config   `mapstructure:",squash"`
			ArangoConfig   graph.ArangoConfig `mapstructure:"arango"`
			DiscoverAtBoot bool               `mapstructure:"discover_capabilities"`
		}
		if err := viper.UnmarshalKey("graph", &graphCfg); err != nil {
			return fmt.Errorf("parse graph config: %w", err)
		}
		querier, err := graph.NewArangoQuerier(cmd.Context(), graphCfg.ArangoConfig)
		if err != nil {
			return fmt.Errorf("connect knowledge graph: %w", err)
		}
		adapter, err := graph.New(graphCfg.Config, querier)
		if err != nil {
			return err
		}
		engine.Dispatcher.RegisterAdapter(adapter)
		if graphCfg.DiscoverAtBoot {
			if _, err := adapter.DiscoverCapabilities(cmd.Context(), engine.Registry); err != nil {
				log.Printf("graph capability discovery failed: %v", err)
			}
		}
	}

	if viper.IsSet("rag") {
		var ragCfg rag.Config
		if err := viper.UnmarshalKey("rag", &ragCfg); err != nil {
			return fmt.Errorf("parse rag config: %w", err)
		}
		arbiter, err := rag.NewAnthropicArbiter(ragCfg)
		if err != nil {
			return err
		}
		pipeline, err := rag.New(ragCfg,
			rag.NewQdrantSearcher(ragCfg.VectorHost, ragCfg.VectorPort, ragCfg.VectorCollection, ragCfg.VectorAPIKey),
			rag.NewPubChemClient(""),
			arbiter,
			rag.WithMonitor(engine.Monitor))
		if err != nil {
			return err
		}
		engine.Dispatcher.RegisterAdapter(rag.NewAdapter("", pipeline))
	}
	return nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func supportLevel(s string) types.SupportLevel {
	switch s {
	case "full":
		return types.SupportFull
	case "none":
		return types.SupportNone
	default:
		return types.SupportPartial
	}
}
