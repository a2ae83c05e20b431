// Package main implements the bookingstore binary: the store server and a
// small admin client for its HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arkilian/bookingstore/internal/app"
	"github.com/arkilian/bookingstore/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configFile string
	dataDir    string
	httpAddr   string
	grpcAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "bookingstore",
	Short: "Partitioned booking record store",
	Long: `bookingstore keeps booking records in yearly partitions with secondary
indexes, a pruning query planner and per-subject and per-resource summaries.
Settings come from an optional config file (YAML, JSON or TOML), then
BOOKINGSTORE_* environment variables (a .env file is read if present), then
flags.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the store server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bookingstore version %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML, JSON or TOML)")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding the catalog database")
	serveCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Printf("bookingstore %s (commit %s) data_dir=%s boundaries=%v", version, commit, cfg.DataDir, cfg.Partitions.Boundaries)

	a, err := app.New(cfg, version)
	if err != nil {
		return err
	}
	return a.Run(context.Background())
}

// loadConfig layers flags over the file and environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
		cfg.GRPC.Enabled = true
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
