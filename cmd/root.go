// Package cmd provides the obuoy command line: the web server and buoy
// catalog maintenance.
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"obuoy/bootstrap"
	"obuoy/config"
	"obuoy/core"
	"obuoy/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const (
	maxImportFileSize = 10 * 1024 * 1024
	defaultTimeout    = 5 * time.Minute
)

// buoyStore is the part of the buoy catalog the CLI writes to
type buoyStore interface {
	ListBuoys(ctx context.Context, activeOnly bool) ([]core.Buoy, error)
	UpsertBuoys(ctx context.Context, buoys []core.Buoy) (inserted, updated int64, err error)
}

// cli holds the global flags and the hooks tests replace
type cli struct {
	configFile string
	noColor    bool
	quiet      bool
	verbose    bool
	version    string

	openStore func(ctx context.Context, c *cli) (buoyStore, func(), error)
	serve     func(ctx context.Context, c *cli) error
}

// NewRootCmd creates the obuoy command. Without a subcommand it serves the site.
func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(&cli{
		version:   version,
		openStore: openMongoStore,
		serve:     runServer,
	})
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "obuoy",
		Short: "Buoy map web server",
		Long: `OBuoy serves a Google Maps page of NDBC buoys with their latest observations.

Run without a subcommand to start the web server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context(), c)
		},
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "Suppress non-essential output")
	root.PersistentFlags().BoolVar(&c.verbose, "verbose", false, "Log storage activity")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newBuoysCmd(c))
	root.AddCommand(newVersionCmd(c))

	return root
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context(), c)
		},
	}
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "obuoy %s\n", c.version)
		},
	}
}

// runServer builds the application, serves until a signal arrives and shuts down
func runServer(ctx context.Context, c *cli) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.NewApp(ctx, bootstrap.Options{ConfigFile: c.configFile})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	err = app.WaitForShutdown(ctx)
	app.Shutdown()
	if err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// openMongoStore connects to the buoy catalog the server would use
func openMongoStore(ctx context.Context, c *cli) (buoyStore, func(), error) {
	cfg, err := config.LoadConfig(c.configFile, "")
	if err != nil {
		return nil, nil, err
	}

	sugar := zap.NewNop().Sugar()
	if c.verbose {
		_, s, err := bootstrap.InitLogger(cfg)
		if err != nil {
			return nil, nil, err
		}
		sugar = s
	}

	db, err := bootstrap.InitMongoDB(ctx, cfg, cfg.MongoURI(nil), sugar)
	if err != nil {
		return nil, nil, err
	}

	buoys := storage.NewBuoyStorage(db)
	if err := buoys.EnsureIndexes(ctx); err != nil {
		_ = db.Close(context.Background())
		return nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Close(closeCtx)
	}
	return buoys, cleanup, nil
}

func (c *cli) infof(w io.Writer, format string, args ...interface{}) {
	if !c.quiet {
		fmt.Fprintf(w, format, args...)
	}
}
