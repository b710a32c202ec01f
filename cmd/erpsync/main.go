package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appsync "github.com/care/erpsync/internal/application/sync"
	"github.com/care/erpsync/internal/infrastructure/cache"
	"github.com/care/erpsync/internal/infrastructure/config"
	"github.com/care/erpsync/internal/infrastructure/logger"
	"github.com/care/erpsync/internal/infrastructure/persistence"
	"github.com/care/erpsync/internal/infrastructure/rpc"

	domain "github.com/care/erpsync/internal/domain/sync"
)

var version = "0.1.0"

// app wires configuration, logging, the remote connection, the record store
// and the sync service together for the CLI commands.
type app struct {
	cfg  *config.Config
	log  *zap.Logger
	conn *rpc.JSONRPCConnection
	db   *persistence.Database
	svc  *appsync.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	var conn *rpc.JSONRPCConnection
	if cfg.ERP.Enabled {
		sessions, err := cache.NewSessionCacheFactory(cfg.Redis, cache.WithLogger(log)).Create()
		if err != nil {
			return nil, fmt.Errorf("creating session cache: %w", err)
		}
		conn, err = rpc.NewJSONRPCConnection(rpc.Config{
			BaseURL:     cfg.ERP.BaseURL,
			Database:    cfg.ERP.Database,
			Username:    cfg.ERP.Username,
			Password:    cfg.ERP.Password,
			APIKey:      cfg.ERP.APIKey,
			Timeout:     cfg.ERP.Timeout,
			MaxRetries:  cfg.ERP.MaxRetries,
			BackoffBase: cfg.ERP.BackoffBase,
			BackoffMax:  cfg.ERP.BackoffMax,
			CacheTTL:    cfg.ERP.CacheTTL,
		}, sessions, log)
		if err != nil {
			return nil, fmt.Errorf("creating remote connection: %w", err)
		}
	}

	db, err := persistence.NewDatabase(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	svc := appsync.NewService(appsync.ServiceConfig{
		Enabled:           cfg.ERP.Enabled,
		RejectConcurrent:  cfg.Sync.RejectConcurrent,
		ValidateAfterSync: cfg.Sync.ValidateAfterSync,
		BulkLimit:         cfg.Sync.BulkLimit,
	}, conn, persistence.NewGormRecordStore(db.DB), log)

	return &app{cfg: cfg, log: log, conn: conn, db: db, svc: svc}, nil
}

func (a *app) close(ctx context.Context) {
	if a.conn != nil {
		_ = a.conn.Close(ctx)
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.log.Sync()
}

func printResult(result domain.Result) {
	status := "OK"
	if !result.Success {
		status = "FAILED"
	}
	fmt.Printf("%-36s  %-7s  state=%s", result.RecordID, status, result.State)
	if result.RemoteID != 0 {
		fmt.Printf("  remote_id=%d", result.RemoteID)
	}
	if result.ErrorKind != domain.KindNone {
		fmt.Printf("  kind=%s", result.ErrorKind)
	}
	if result.Message != "" {
		fmt.Printf("  %s", result.Message)
	}
	fmt.Println()
}

func parseRecordID(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record id %q: %w", args[0], err)
	}
	return id, nil
}

func main() {
	root := &cobra.Command{
		Use:           "erpsync",
		Short:         "Synchronize local billing records with a remote ERP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("erpsync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "test-connection",
		Short: "Authenticate against the remote and issue a health check call",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			defer a.close(ctx)

			if a.conn == nil {
				return errors.New("integration is disabled, set erp.enabled = true")
			}
			if err := a.conn.TestConnection(ctx); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Println("connection OK")
			return nil
		},
	})

	var syncOpts domain.Options
	syncCmd := &cobra.Command{
		Use:   "sync <record-id>",
		Short: "Synchronize one local invoice with the remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			defer a.close(ctx)

			result := a.svc.Sync(ctx, domain.Request{
				RecordID:   recordID,
				Collection: domain.CollectionInvoice,
				Options:    syncOpts,
			})
			printResult(result)
			if !result.Success {
				return fmt.Errorf("sync failed: %s", result.Message)
			}
			return nil
		},
	}
	syncCmd.Flags().BoolVar(&syncOpts.Force, "force", false, "Re-submit field values even if the record looks synced")
	syncCmd.Flags().BoolVar(&syncOpts.DryRun, "dry-run", false, "Resolve and map but make no remote changes")
	syncCmd.Flags().BoolVar(&syncOpts.Validate, "validate", false, "Post the remote invoice after a successful sync")
	root.AddCommand(syncCmd)

	var allOpts domain.Options
	var allLimit int
	syncAllCmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Synchronize every invoice with no remote counterpart",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()
			defer a.close(ctx)

			results := a.svc.SyncAll(ctx, allLimit, allOpts)
			failed := 0
			for _, result := range results {
				printResult(result)
				if !result.Success {
					failed++
				}
			}
			fmt.Printf("%d synced, %d failed\n", len(results)-failed, failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, len(results))
			}
			return nil
		},
	}
	syncAllCmd.Flags().IntVar(&allLimit, "limit", 0, "Maximum records to process (0 = configured default)")
	syncAllCmd.Flags().BoolVar(&allOpts.Force, "force", false, "Include already-synced records and re-submit their values")
	syncAllCmd.Flags().BoolVar(&allOpts.DryRun, "dry-run", false, "Resolve and map but make no remote changes")
	syncAllCmd.Flags().BoolVar(&allOpts.Validate, "validate", false, "Post each remote invoice after a successful sync")
	root.AddCommand(syncAllCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status <record-id>",
		Short: "Refresh the local status of an invoice from the remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			defer a.close(ctx)

			status, err := a.svc.RefreshStatus(ctx, recordID)
			if err != nil {
				return fmt.Errorf("refreshing status: %w", err)
			}
			if status == "" {
				fmt.Println("integration disabled, status unchanged")
				return nil
			}
			fmt.Printf("%s  status=%s\n", recordID, status)
			return nil
		},
	})

	var cancelDryRun bool
	cancelCmd := &cobra.Command{
		Use:   "cancel <record-id>",
		Short: "Void the remote invoice of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseRecordID(args)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			defer a.close(ctx)

			result := a.svc.Sync(ctx, domain.Request{
				RecordID:   recordID,
				Collection: domain.CollectionInvoice,
				Op:         domain.OperationCancel,
				Options:    domain.Options{DryRun: cancelDryRun},
			})
			printResult(result)
			if !result.Success {
				return fmt.Errorf("cancel failed: %s", result.Message)
			}
			return nil
		},
	}
	cancelCmd.Flags().BoolVar(&cancelDryRun, "dry-run", false, "Report what would be cancelled without touching the remote")
	root.AddCommand(cancelCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
