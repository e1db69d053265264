// Command bundle_export packages one customer's staged data into a
// portable bundle and prints the retrieval URL.
//
// Usage:
//
//	bundle_export -customer cust_123 [-raw] [-config portage.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/haelix/portage/config"
	"github.com/haelix/portage/dbopen"
	"github.com/haelix/portage/exporter"
	"github.com/haelix/portage/objstore"
	"github.com/haelix/portage/observability"
)

func main() {
	customer := flag.String("customer", "", "customer id to export")
	includeRaw := flag.Bool("raw", false, "include the raw uploads component")
	configPath := flag.String("config", os.Getenv("PORTAGE_CONFIG"), "path to portage.yaml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *customer == "" {
		fmt.Fprintln(os.Stderr, "bundle_export: -customer is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	opts := []exporter.Option{}
	if cfg.ObjectStore.Endpoint != "" {
		store, err := objstore.NewMinioStore(cfg.ObjectStore)
		if err != nil {
			logger.Error("object store connect failed", "error", err)
			os.Exit(1)
		}
		opts = append(opts, exporter.WithObjectStore(store))
	}
	if db, err := dbopen.Open(cfg.SystemDBPath(),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(observability.Schema)); err == nil {
		defer db.Close()
		opts = append(opts, exporter.WithEventLogger(observability.NewEventLogger(db)))
	} else {
		logger.Warn("observability database unavailable", "error", err)
	}

	exp := exporter.New(cfg.StagingRoot, cfg.ExportRoot, cfg.CreatedBy, logger, opts...)
	out, err := exp.Export(context.Background(), *customer, exporter.Options{
		IncludeRaw: *includeRaw,
		OnProgress: func(stage string, pct float64) {
			logger.Info("export progress", "stage", stage, "percent", pct)
		},
	})
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}

	for _, w := range out.Warnings {
		logger.Warn("export warning", "warning", w)
	}
	fmt.Println(out.RetrievalURL)
}
