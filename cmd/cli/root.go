// Package cli provides the command-line interface of netsentry.
// It implements the Cobra command tree: the serve daemon, the hidden scan
// worker, schema migrations, and client commands that talk to the API.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/netsentry/internal/api/handlers"
	"github.com/anstrom/netsentry/internal/config"
	"github.com/anstrom/netsentry/internal/logging"
)

const envPrefix = "NETSENTRY"

var (
	cfgFile      string
	verbose      bool
	apiURL       string
	outputFormat string
)

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netsentry",
	Short: "Network reconnaissance and vulnerability scanner",
	Long: `netsentry discovers live hosts in an address range, scans their ports,
identifies the services behind them and reports known weaknesses.

Scans run detached from the request that started them. Start the service
with 'netsentry serve' and drive it with the scan, status, show, cancel
and list commands.`,
	Version:           getVersion(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: validateGlobalFlags,
}

// Execute runs the command tree. It is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&apiURL, "api-url", "", "API base URL for client commands (default derived from config)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")

	for key, flag := range map[string]string{
		"verbose": "verbose",
		"api_url": "api-url",
		"output":  "output",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
		}
	}
}

// initConfig locates the config file and enables NETSENTRY_* environment
// overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/netsentry")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

func validateGlobalFlags(_ *cobra.Command, _ []string) error {
	if v := viper.GetString("output"); v != "" {
		outputFormat = v
	}
	switch outputFormat {
	case formatTable, formatJSON:
		return nil
	default:
		return fmt.Errorf("invalid output format %q: expected %s or %s", outputFormat, formatTable, formatJSON)
	}
}

// getConfigFilePath returns the explicit --config path or the file viper found.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return viper.ConfigFileUsed()
}

// loadConfig loads the YAML configuration and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides copies the settings most often injected by deployment
// environments, e.g. NETSENTRY_DATABASE_PASSWORD.
func applyEnvOverrides(cfg *config.Config) {
	if v := viper.GetString("database.host"); v != "" {
		cfg.Database.Host = v
	}
	if v := viper.GetInt("database.port"); v > 0 {
		cfg.Database.Port = v
	}
	if v := viper.GetString("database.database"); v != "" {
		cfg.Database.Database = v
	}
	if v := viper.GetString("database.username"); v != "" {
		cfg.Database.Username = v
	}
	if v := viper.GetString("database.password"); v != "" {
		cfg.Database.Password = v
	}
	if v := viper.GetString("database.ssl_mode"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := viper.GetString("api.host"); v != "" {
		cfg.API.Host = v
	}
	if v := viper.GetInt("api.port"); v > 0 {
		cfg.API.Port = v
	}
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = logging.LogLevel(v)
	}
	if v := viper.GetString("supervisor.mode"); v != "" {
		cfg.Supervisor.Mode = v
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
	handlers.SetBuildInfo(v, c, bt)
}

// initLogging installs the configured logger as the process default.
func initLogging() {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}
	applyEnvOverrides(cfg)

	logConfig := cfg.Logging
	if viper.GetBool("verbose") {
		logConfig.Level = logging.LevelDebug
		logConfig.AddSource = true
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}
