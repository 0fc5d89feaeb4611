package cli

import (
	"github.com/spf13/cobra"

	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/daemon"
	"github.com/anstrom/netsentry/internal/logging"
)

var (
	serveHost    string
	servePort    int
	servePIDFile string
	serveMode    string
	serveNoAPI   bool
)

// serveCmd runs the long-lived service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan service with its API, supervisor and scheduler",
	Long: `Run netsentry as a long-lived service. The service applies pending
database migrations, serves the REST API, launches scans through the
supervisor and runs the lease reaper and any scheduled scans.

SIGINT and SIGTERM shut the service down gracefully, SIGHUP reloads the
schedule from the configuration file and SIGUSR1 logs a status summary.`,
	Example: `  netsentry serve
  netsentry serve --config /etc/netsentry/config.yaml
  netsentry serve --host 0.0.0.0 --port 9090 --mode process`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "API listen address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API listen port (overrides config)")
	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "PID file path (overrides config)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "supervisor mode: inprocess or process (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoAPI, "no-api", false, "run without the API server")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg)

	d := daemon.New(cfg, getConfigFilePath(), logging.Default())
	return d.Start()
}

func applyServeFlags(cfg *config.Config) {
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if servePIDFile != "" {
		cfg.Daemon.PIDFile = servePIDFile
	}
	if serveMode != "" {
		cfg.Supervisor.Mode = serveMode
	}
	if serveNoAPI {
		cfg.API.Enabled = false
	}
}
