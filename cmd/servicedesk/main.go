package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/servicedesk/internal/backup"
	"github.com/dukerupert/servicedesk/internal/config"
	"github.com/dukerupert/servicedesk/internal/logging"
	"github.com/dukerupert/servicedesk/internal/model"
	"github.com/dukerupert/servicedesk/internal/scheduler"
	"github.com/dukerupert/servicedesk/internal/server"
	ws "github.com/dukerupert/servicedesk/internal/websocket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode gives scripts a stable signal per error kind.
func exitCode(err error) int {
	if errors.Is(err, backup.ErrAlreadyDeleted) {
		return 2
	}
	switch backup.KindOf(err) {
	case backup.KindInvalidArgument:
		return 2
	case backup.KindNotFound:
		return 3
	case backup.KindInvalidState, backup.KindProtectedResource:
		return 4
	case backup.KindIntegrityViolation:
		return 5
	default:
		return 1
	}
}

type rootOptions struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "servicedesk",
		Short:        "Service desk backup, restore and integrity operations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if opts.configPath != "" {
				// The archive command loads the same file.
				abs, err := filepath.Abs(opts.configPath)
				if err != nil {
					return err
				}
				os.Setenv(config.ConfigPathEnvVar, abs)
			}
			opts.logger = logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(opts), newBackupCmd(opts))
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the backup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts.cfg, opts.logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(logger)
	a, err := newApp(cfg, server.StatusBroadcaster(hub), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Config{
		OperatorTokens: cfg.Auth.OperatorTokens,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	}, a.manager, hub, logger)
	go srv.RunMaintenance(ctx)

	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(scheduler.Config{
			Daily:      cfg.Schedule.Daily,
			Weekly:     cfg.Schedule.Weekly,
			Monthly:    cfg.Schedule.Monthly,
			Integrity:  cfg.Schedule.Integrity,
			AlertEmail: cfg.Alert.Email,
		}, a.manager, a.notifier, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	if len(cfg.Auth.OperatorTokens) == 0 {
		logger.Warn("no operator tokens configured; backup API is unauthenticated")
	}

	// Backups and restores run inside the request, bounded by their own
	// deadlines, so there is no write timeout.
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("servicedesk listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func newBackupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, inspect, restore and verify backups",
	}
	var actor int64
	cmd.PersistentFlags().Int64Var(&actor, "actor", 0, "operator id recorded on the operation (0 = system)")

	// withApp wires the orchestrator for one command and closes it after.
	withApp := func(run func(ctx context.Context, a *app, actorID *int64, args []string) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			a, err := newApp(opts.cfg, nil, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			var actorID *int64
			if actor > 0 {
				actorID = &actor
			}
			return run(c.Context(), a, actorID, args)
		}
	}

	var description string
	create := &cobra.Command{
		Use:       "create [daily|weekly|monthly|manual]",
		Short:     "Take a backup now",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"daily", "weekly", "monthly", "manual"},
		RunE: withApp(func(ctx context.Context, a *app, actorID *int64, args []string) error {
			t := model.BackupTypeManual
			if len(args) == 1 {
				t = model.BackupType(args[0])
			}
			res, err := a.manager.CreateBackup(ctx, t, actorID, description)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		}),
	}
	create.Flags().StringVarP(&description, "description", "d", "", "note stored with the backup")

	var listOpts backup.ListOptions
	var listType, listStatus string
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog records",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *int64, _ []string) error {
			listOpts.Type = model.BackupType(listType)
			listOpts.Status = model.BackupStatus(listStatus)
			res, err := a.manager.ListBackups(ctx, listOpts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, res)
			}
			return printTable(os.Stdout, res)
		}),
	}
	list.Flags().StringVar(&listType, "type", "", "filter by backup type")
	list.Flags().StringVar(&listStatus, "status", "", "filter by status (in_progress, success, failure)")
	list.Flags().StringVar(&listOpts.SortBy, "sort", "created_at", "sort column")
	list.Flags().StringVar(&listOpts.SortOrder, "order", "desc", "sort order (asc|desc)")
	list.Flags().IntVar(&listOpts.Limit, "limit", 50, "page size")
	list.Flags().IntVar(&listOpts.Offset, "offset", 0, "page offset")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	show := &cobra.Command{
		Use:   "show <backup-id>",
		Short: "Show one catalog record and its integrity checks",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *int64, args []string) error {
			rec, err := a.manager.GetBackup(ctx, args[0])
			if err != nil {
				return err
			}
			checks, err := a.manager.ListChecks(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, map[string]any{"backup": rec, "checks": checks})
		}),
	}

	del := &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup's files and tombstone its record",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, actorID *int64, args []string) error {
			if err := a.manager.DeleteBackup(ctx, args[0], actorID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "deleted %s\n", args[0])
			return nil
		}),
	}

	var noSafety bool
	restore := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Replace the live database with a verified backup",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, actorID *int64, args []string) error {
			res, err := a.manager.RestoreBackup(ctx, args[0], actorID, backup.RestoreOptions{BackupCurrent: !noSafety})
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, res)
		}),
	}
	restore.Flags().BoolVar(&noSafety, "no-safety-backup", false, "skip copying the live database aside first")

	verify := &cobra.Command{
		Use:   "verify [backup-id]",
		Short: "Run integrity checks on one backup or all successful backups",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *int64, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			report, err := a.manager.CheckIntegrity(ctx, id)
			if err != nil {
				return err
			}
			if err := printJSON(os.Stdout, report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return &backup.Error{Kind: backup.KindIntegrityViolation, Message: fmt.Sprintf("%d integrity checks failed", report.Failed)}
			}
			return nil
		}),
	}

	fetch := &cobra.Command{
		Use:   "fetch <backup-id>",
		Short: "Download a backup's artifact from offsite storage",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *int64, args []string) error {
			path, err := a.manager.FetchOffsite(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, path)
			return nil
		}),
	}

	cmd.AddCommand(create, list, show, del, restore, verify, fetch)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, res *backup.ListResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKUP ID\tTYPE\tSTATUS\tSIZE\tCREATED")
	for _, r := range res.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.BackupID, r.BackupType, r.Status, r.FileSize, r.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d records\n", len(res.Records), res.Total)
	return err
}
