package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/importer"
	"storefront/internal/logger"
	productrepo "storefront/internal/repository/product"
)

func main() {
	var (
		filePath string
		currency string
	)
	flag.StringVar(&filePath, "file", "", "Path to product CSV (id,name,description,price,currency,image,category)")
	flag.StringVar(&currency, "currency", "", "Currency for rows without one (defaults to CHECKOUT_CURRENCY)")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	if currency == "" {
		currency = cfg.Currency
	}
	log := logger.New(logger.Options{Service: "storefront-importer", Env: cfg.AppEnv, Level: cfg.LogLevel})
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.Error("connect db", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		log.Error("open file", slog.Any("error", err))
		os.Exit(1)
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, productrepo.NewPostgres(pool, log), currency)

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		log.Error("import failed", slog.Int("imported", count), slog.Any("error", err))
		os.Exit(1)
	}

	fmt.Printf("Imported %d products in %s\n", count, time.Since(start).Truncate(time.Millisecond))
}
