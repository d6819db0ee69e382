package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HerbHall/phonebook/internal/contacts"
	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/internal/store"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/HerbHall/phonebook/pkg/seed"
	"go.uber.org/zap"
)

func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configFile := fs.String("config", "", "path to configuration file")
	dataFile := fs.String("file", "", "seed YAML file (default: built-in sample contacts)")
	force := fs.Bool("force", false, "seed even if this data set version was applied before")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configFile)
	logger, err := newLogger(cfg)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	version, data, err := seedData(*dataFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	policy, err := contacts.ParseUniquenessPolicy(cfg.GetString("plugins.contacts.phone_uniqueness"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := store.New(cfg.GetString("database.path"),
		store.WithBusyTimeout(cfg.GetDuration("database.busy_timeout")),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo, err := services.NewSQLiteContactRepository(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	meta, err := services.NewSQLiteMetaRepository(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	svc := contacts.NewService(repo, logger, contacts.WithUniqueness(policy))
	res, err := contacts.NewSeeder(svc, meta, logger).Apply(ctx, version, data, *force)
	if err != nil {
		logger.Error("seed failed", zap.Error(err))
		os.Exit(1)
	}
	if res.AlreadyApplied {
		fmt.Printf("Seed data version %d already applied (use --force to apply again)\n", res.Version)
		return
	}
	fmt.Printf("Seed data version %d applied: %d created, %d skipped\n", res.Version, res.Created, res.Skipped)
}

func seedData(path string) (int, []models.ContactInput, error) {
	if path == "" {
		set := seed.Default()
		version, err := set.Version()
		if err != nil {
			return 0, nil, err
		}
		data, err := set.Contacts()
		return version, data, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	doc, err := seed.Read(f)
	if err != nil {
		return 0, nil, err
	}
	return doc.Version, doc.Contacts, nil
}
