// Command cruiseline serves the archive API and runs its maintenance jobs
// (seeding the datastore and exporting or restoring blob storage snapshots).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cruiseline/internal/adapters/httpapi"
	"cruiseline/internal/blob"
	"cruiseline/internal/config"
	"cruiseline/internal/core"
	"cruiseline/internal/seed"
	"cruiseline/internal/snapshot"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries state resolved by the root command's pre-run hook.
type app struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
	stdout io.Writer
}

func cli(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout}
	root := &cobra.Command{
		Use:           "cruiseline",
		Short:         "Cruiseline archive API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg.LogLevel, a.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.serveCmd(), a.seedCmd(), a.snapshotCmd(), a.restoreCmd())
	return root
}

func buildLogger(level string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func (a *app) service() *core.Service {
	settings := core.DatastoreSettings{URL: a.cfg.Datastore.URL, ServiceKey: a.cfg.Datastore.ServiceKey}
	return core.NewService(settings.Opener(), core.WithLogger(a.logger.Named("core")))
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Access.AdminPassphrase == "" && a.cfg.Access.WitnessPassphrase == "" {
		a.logger.Warn("no passphrases configured; every access check resolves to none")
	}
	api := httpapi.NewAPI(httpapi.Options{
		Service: a.service(),
		Secrets: core.Secrets{Admin: a.cfg.Access.AdminPassphrase, Witness: a.cfg.Access.WitnessPassphrase},
		Logger:  a.logger.Named("http"),
	})
	srv := httpapi.NewServer(api.Routes(), httpapi.ServerOptions{
		Addr:              a.cfg.Server.Addr,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
		ShutdownTimeout:   a.cfg.Server.ShutdownTimeout,
		Logger:            a.logger.Named("server"),
	})
	if err := srv.Start(); err != nil {
		return err
	}
	a.logger.Info("listening", zap.String("addr", srv.Addr()))
	<-ctx.Done()
	a.logger.Info("shutting down")
	return srv.Stop(context.Background())
}

func (a *app) seedCmd() *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the bundled projects and records into the datastore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := seed.Apply(cmd.Context(), a.service(), only, a.logger.Named("seed"))
			if err != nil {
				return err
			}
			return a.printJSON(reports)
		},
	}
	cmd.Flags().StringVar(&only, "only", "", "seed a single collection (projects or records)")
	return cmd
}

func (a *app) snapshotCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export every collection to the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := blob.Open(cmd.Context(), a.cfg.Blob)
			if err != nil {
				return err
			}
			exporter := snapshot.NewExporter(a.service(), store, snapshot.WithLogger(a.logger.Named("snapshot")))
			manifest, err := exporter.Run(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			return a.printJSON(manifest)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "snapshots", "key prefix for exported objects")
	cmd.AddCommand(a.snapshotListCmd())
	return cmd
}

func (a *app) snapshotListCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the snapshots stored under a prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := blob.Open(cmd.Context(), a.cfg.Blob)
			if err != nil {
				return err
			}
			manifests, err := snapshot.List(cmd.Context(), store, prefix)
			if err != nil {
				return err
			}
			return a.printJSON(manifests)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "snapshots", "key prefix to search")
	return cmd
}

func (a *app) restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-prefix>",
		Short: "Load a snapshot back into the datastore, skipping existing ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blob.Open(cmd.Context(), a.cfg.Blob)
			if err != nil {
				return err
			}
			reports, err := snapshot.Restore(cmd.Context(), a.service(), store, args[0], a.logger.Named("restore"))
			if err != nil {
				return err
			}
			return a.printJSON(reports)
		},
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
