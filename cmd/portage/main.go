// Command portage is the instance-side daemon. At startup, if
// PORTAGE_IMPORT_URL is set, it synchronously imports the referenced bundle
// before the instance is considered ready; an import failure refuses to
// boot. It then serves the import status endpoints on the chassis.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/haelix/portage/chassis"
	"github.com/haelix/portage/config"
	"github.com/haelix/portage/controlplane"
	"github.com/haelix/portage/dbopen"
	"github.com/haelix/portage/importer"
	"github.com/haelix/portage/lease"
	"github.com/haelix/portage/observability"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	logger.Info("portage starting")

	cfg, err := config.Load(os.Getenv("PORTAGE_CONFIG"))
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	db, err := dbopen.Open(cfg.SystemDBPath(),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(lease.Schema),
		dbopen.WithSchema(observability.Schema))
	if err != nil {
		logger.Error("system database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	im := importer.New(cfg.DataDir, cfg.WorkDir, cfg.InstanceID, logger,
		importer.WithControlPlane(controlplane.New(cfg.ControlPlaneURL, cfg.InstanceID, logger)),
		importer.WithLeaseStore(lease.NewStore(db)),
		importer.WithEventLogger(observability.NewEventLogger(db)))
	svc := importer.NewService(im, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Boot-time auto-import: a present retrieval URL must be consumed to
	// completion before the instance serves anything; a failed import must
	// not boot a half-initialized instance. An absent URL is a silent no-op.
	if importURL := os.Getenv("PORTAGE_IMPORT_URL"); importURL != "" {
		logger.Info("boot import configured", "url", importURL)
		res, err := svc.Run(ctx, importURL)
		if err != nil {
			logger.Error("boot import failed, refusing to start",
				"error", err, "status", res.Progress.Status)
			os.Exit(1)
		}
		logger.Info("boot import completed",
			"customer_id", res.CustomerID,
			"import_id", res.ImportID,
			"documents", res.ImportedDocuments)
	}
	svc.SetReady()

	server := chassis.NewServer(logger, cfg.ListenAddr)
	if err := server.Register("importer", svc); err != nil {
		logger.Error("service registration failed", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		server.Stop(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		logger.Error("chassis failed", "error", err)
		os.Exit(1)
	}
	logger.Info("portage stopped")
}
