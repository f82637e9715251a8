package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scorebridge-network/scorebridge/internal/api"
	"github.com/scorebridge-network/scorebridge/internal/app/reconcile"
	"github.com/scorebridge-network/scorebridge/internal/app/scheduler"
	"github.com/scorebridge-network/scorebridge/internal/app/syncqueue"
	"github.com/scorebridge-network/scorebridge/internal/app/transfer"
	"github.com/scorebridge-network/scorebridge/internal/daemon"
	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
	"github.com/scorebridge-network/scorebridge/internal/infra/sheets"
	"github.com/scorebridge-network/scorebridge/internal/infra/sqlite"
	"github.com/scorebridge-network/scorebridge/internal/notify"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger daemon and sync loop",
	Long: `Start the daemon: open the ledger, connect the spreadsheet mirror,
run the reconciliation scheduler, and serve the HTTP API. Without
[mirror] enabled in the config an in-memory mirror is used, which is
fine for trying things out but keeps nothing anywhere.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Ledger.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("[serve] ledger open at %s", cfg.Ledger.Path)

	var mirror domain.MirrorStore
	if cfg.Mirror.Enabled {
		mirror, err = sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.Mirror.SpreadsheetID,
			CredentialsFile: cfg.Mirror.CredentialsFile,
		})
		if err != nil {
			return err
		}
		log.Printf("[serve] mirroring spreadsheet %s", cfg.Mirror.SpreadsheetID)
	} else {
		mirror = sheets.NewFakeMirror()
		log.Printf("[serve] mirror disabled, using in-memory mirror")
	}

	sink := notify.FromConfig(cfg.Notify.WebhookURL, cfg.Notify.Verbose)

	engine := transfer.New(transfer.Config{
		DefaultRate: cfg.Transfer.CommissionRate,
		MaxRetries:  cfg.Transfer.MaxRetries,
	}, db)
	rec := reconcile.New(db, mirror)
	queue := syncqueue.New(syncqueue.Config{
		MaxAttempts: cfg.Sync.MaxAttempts,
		BaseBackoff: cfg.SyncBaseBackoff(),
		MaxBackoff:  cfg.SyncMaxBackoff(),
	}, db, sink)
	sched, err := scheduler.New(ctx, scheduler.Config{
		Interval: cfg.SyncInterval(),
		Discover: cfg.Sync.Discover,
	}, db, rec, queue, mirror, sink)
	if err != nil {
		return err
	}

	server := api.NewServer(db, engine, sched)
	server.SetTracer(observability.Default())
	if cfg.API.Metrics {
		server.EnableMetrics()
	}

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("[serve] API listening on %s", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := sched.Run(ctx); !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("[serve] shutting down")
	case err := <-errCh:
		stop()
		log.Printf("[serve] fatal: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
