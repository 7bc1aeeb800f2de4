// Command importdata loads the development fixtures into the configured
// database or removes every document from it.
//
//	importdata --import [-dir dev-data]
//	importdata --delete
//
// The database is configured like the server, through the environment and
// the CONFIG file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/patric-chuzhbe/toursapi/internal/config"
	"github.com/patric-chuzhbe/toursapi/internal/db/mongodb"
	"github.com/patric-chuzhbe/toursapi/internal/devdata"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
)

func run() error {
	importData := flag.Bool("import", false, "insert the fixtures")
	deleteData := flag.Bool("delete", false, "remove every document")
	dir := flag.String("dir", "dev-data", "directory of tours.json, users.json and reviews.json")
	flag.Parse()

	if *importData == *deleteData {
		return errors.New("exactly one of --import and --delete is required")
	}

	cfg, err := config.New(config.WithDisableFlagsParsing(true))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, cfg.IsProduction()); err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.DatabaseURI == "" {
		return errors.New("DATABASE is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectionTimeout)
	defer cancel()

	db, err := mongodb.New(ctx, cfg.DatabaseURI, cfg.DatabaseName, cfg.DBConnectionTimeout)
	if err != nil {
		return err
	}
	defer db.Close()

	importer := devdata.New(db.Repositories(), cfg.BcryptCost)

	if *deleteData {
		return importer.Delete(context.Background())
	}

	fixtures, err := devdata.Load(*dir)
	if err != nil {
		return err
	}
	return importer.Import(context.Background(), fixtures)
}

func main() {
	if err := run(); err != nil {
		panic(fmt.Errorf("importdata: %w", err))
	}
}
