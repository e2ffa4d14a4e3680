package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentic-research/rethread/internal/config"
	"github.com/agentic-research/rethread/internal/graphfile"
	"github.com/agentic-research/rethread/internal/kvstore"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
)

// app is the state shared by every subcommand, set up before each run.
var app struct {
	cfg     config.Config
	log     *logrus.Logger
	reg     *prometheus.Registry
	metrics *kvstore.Metrics
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to HCL config (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite record store")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

var rootCmd = &cobra.Command{
	Use:   "rethread",
	Short: "Flatten nested threads of a cap graph into a record store",
	Long: `rethread walks threads through a cap graph, gathers their pieces from a
record store and the graph document, and either prints the flattened
threads or writes them back in place of the nested records they absorb.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		app.cfg = cfg
		app.log = newLogger(cmd, cfg.Log)
		app.reg = prometheus.NewRegistry()
		app.metrics = kvstore.NewMetrics(app.reg)
		return nil
	},
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultFile); err == nil {
			path = config.DefaultFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Store.Path = dbPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, c config.Log) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(cmd.ErrOrStderr())
	level, _ := logrus.ParseLevel(c.Level) // validated with the config
	l.SetLevel(level)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

func openStore() (*kvstore.SQLiteStore, error) {
	s, err := kvstore.OpenSQLiteStore(app.cfg.Store.Path, app.cfg.Store.BusyTimeout)
	if err != nil {
		return nil, err
	}
	app.log.WithField("action", "open_store").WithField("path", s.Path()).Debug("store opened")
	return s, nil
}

func loadGraph(path string) (*graphfile.File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return graphfile.Load(osfs.New(filepath.Dir(abs)), filepath.Base(abs))
}

// execute runs the root command and then writes the metrics textfile, also
// when the command failed.
func execute(ctx context.Context) error {
	app.cfg = config.Config{}
	app.reg = nil

	err := rootCmd.ExecuteContext(ctx)
	if werr := writeMetrics(); werr != nil {
		if err == nil {
			return werr
		}
		return multierror.Append(err, werr)
	}
	return err
}

func writeMetrics() error {
	if app.reg == nil || app.cfg.Metrics.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(app.cfg.Metrics.Textfile, app.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rethread:", err)
		os.Exit(1)
	}
}
