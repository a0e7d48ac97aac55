package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/harun/tradegate/internal/config"
	"github.com/harun/tradegate/internal/daemon"
	"github.com/harun/tradegate/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tool gateway",
	Long: `Run the tool gateway in the foreground.
In stdio mode the pipe protocol is served on stdin/stdout alongside the HTTP
surface and the process exits when stdin closes; logs go to stderr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("transport", "", "transport mode (stdio, http); overrides MCP_TRANSPORT")
	serveCmd.Flags().Int("port", 0, "HTTP port, 0 disables the HTTP surface; overrides MCP_HTTP_PORT")
	serveCmd.Flags().Bool("allow-write", false, "enable mutating broker tools; overrides BCS_ALLOW_WRITE")
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags copies explicitly set flags over cfg
func applyServeFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "transport":
			cfg.Transport.Mode = f.Value.String()
		case "port":
			cfg.Transport.Port, err = fs.GetInt("port")
		case "allow-write":
			cfg.Broker.AllowWrite, err = fs.GetBool("allow-write")
		}
	})
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Logger(cfg.Transport.Mode))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup.error")
		return err
	}
	if err := d.Start(); err != nil {
		log.Error().Err(err).Msg("startup.error")
		return err
	}

	return d.Wait(ctx)
}
