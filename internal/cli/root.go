package cli

import (
	"github.com/spf13/cobra"

	"github.com/harun/tradegate/internal/config"
	"github.com/harun/tradegate/pkg/mcp"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tradegate",
	Short: "tradegate - trading tool gateway",
	Long: `tradegate exposes a catalog of schema-validated trading tools to an agent
runtime over a stdio pipe protocol and an authenticated HTTP surface. Tools read
market and private data from the relational store and call the broker REST API,
serving cached snapshots while they are fresh enough.`,
	Version:       mcp.ServerVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml or json; environment and .env apply without one)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return mcp.ServerVersion
}

// loadConfig applies the global flags over the loaded configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
