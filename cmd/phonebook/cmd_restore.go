package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HerbHall/phonebook/internal/backup"
	"github.com/spf13/afero"
)

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	input := fs.String("input", "", "backup archive to restore (required)")
	configFile := fs.String("config", "", "config file locating the database and avatars; restored from the archive when present")
	force := fs.Bool("force", false, "overwrite existing files")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "error: --input is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configFile)
	layout := backup.Layout{
		FS:         afero.NewOsFs(),
		DBPath:     cfg.GetString("database.path"),
		AvatarDir:  cfg.GetString("plugins.contacts.avatar.dir"),
		ConfigPath: *configFile,
	}

	in, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	defer in.Close()

	m, err := backup.Restore(context.Background(), layout, in, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Restore complete: backup of %s from version %s, %d avatars\n",
		m.CreatedAt.Format("2006-01-02 15:04:05"), m.Version, len(m.Avatars))
}
