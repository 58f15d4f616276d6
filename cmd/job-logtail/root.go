package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/job-supervisor/internal/config"
	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/shared/logger"
)

type options struct {
	configPath string
	host       string
	port       int
	exchange   string

	jobID       string
	levels      []string
	timeout     time.Duration
	maxMessages int
	maxIdle     int
	stopOn      []string
	format      string
	autoAck     bool
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "job-logtail",
		Short: "Tail the log stream of a running job",
		Long: `Subscribe to the signalling exchange and print the log events of one job.

Without --timeout the broker pushes messages as they arrive. With --timeout the
queue is polled once per interval instead.

Examples:
  # Follow errors of job 42
  job-logtail --job 42 --levels ERROR,CRITICAL

  # Poll every 500ms and exit after 3 empty polls
  job-logtail --job 7 --timeout 500ms --max-idle 3

  # Emit JSON and stop on the first critical message
  job-logtail --job 42 --format json --stop-on CRITICAL`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			appLogger, err := logger.New(&logger.Config{
				Level:      opts.logLevel,
				Format:     "console",
				Output:     "stderr",
				TimeFormat: time.TimeOnly,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer appLogger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dial := signalling.AMQPDialer(cfg.RabbitMQ.ClientConfig(), appLogger.Logger)
			return runTail(ctx, dial, cfg.RabbitMQ.SignallingConfig(), opts, cmd.OutOrStdout(), appLogger.Logger)
		},
	}

	defaultConfigPath := os.Getenv("JOB_LOGTAIL_CONFIG")

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path (defaults are used when empty)")
	flags.StringVar(&opts.host, "host", "localhost", "RabbitMQ host (overrides config)")
	flags.IntVar(&opts.port, "port", 5672, "RabbitMQ port (overrides config)")
	flags.StringVar(&opts.exchange, "exchange", config.DefaultExchange, "signalling exchange (overrides config)")

	flags.StringVarP(&opts.jobID, "job", "j", "", "job id to follow")
	flags.StringSliceVarP(&opts.levels, "levels", "l", nil, "levels to follow, e.g. ERROR,CRITICAL (default: all)")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "poll interval; zero lets the broker push messages")
	flags.IntVarP(&opts.maxMessages, "max-messages", "n", 0, "exit after this many messages")
	flags.IntVar(&opts.maxIdle, "max-idle", 0, "with --timeout, exit after this many consecutive empty polls")
	flags.StringSliceVar(&opts.stopOn, "stop-on", nil, "exit after the first message of one of these levels")
	flags.StringVarP(&opts.format, "format", "f", "text", "output format: text, json")
	flags.BoolVar(&opts.autoAck, "auto-ack", false, "let the broker acknowledge pushed messages")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "diagnostic log level")

	_ = cmd.MarkFlagRequired("job")

	return cmd
}

// loadConfig reads the config file if one was given and applies flag overrides
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") || cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = o.host
	}
	if flags.Changed("port") {
		cfg.RabbitMQ.Port = o.port
	}
	if flags.Changed("exchange") {
		cfg.RabbitMQ.Exchange.Name = o.exchange
	}
	if flags.Changed("auto-ack") {
		cfg.RabbitMQ.Consumer.AutoAck = o.autoAck
	} else {
		o.autoAck = cfg.RabbitMQ.Consumer.AutoAck
	}

	if err := cfg.ValidateTailConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runTail follows one job until a stop condition is met or ctx is cancelled
func runTail(ctx context.Context, dial signalling.Dialer, cfg signalling.Config, opts *options, out io.Writer, logger *slog.Logger) error {
	t, err := newTailer(opts, out)
	if err != nil {
		return err
	}

	watchOpts := signalling.Options{
		JobID:   signalling.JobID(opts.jobID),
		Levels:  signalling.NewLevelSet(opts.levels...),
		Timeout: opts.timeout,
		AutoAck: opts.autoAck,
	}

	if err := signalling.Watch(ctx, dial, cfg, watchOpts, logger, t, t); err != nil {
		return err
	}

	logger.Info("Log tail finished", slog.Int("messages", t.count))
	return nil
}
