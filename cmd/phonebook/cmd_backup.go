package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/phonebook/internal/backup"
	"github.com/spf13/afero"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: phonebook-backup-{timestamp}.tar.gz)")
	configFile := fs.String("config", "", "path to config file; it is included in the backup")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configFile)
	layout := backup.Layout{
		FS:         afero.NewOsFs(),
		DBPath:     cfg.GetString("database.path"),
		AvatarDir:  cfg.GetString("plugins.contacts.avatar.dir"),
		ConfigPath: *configFile,
	}

	if *output == "" {
		*output = fmt.Sprintf("phonebook-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	if err := backup.CheckpointWAL(layout.DBPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: WAL checkpoint failed: %v\n", err)
	}

	out, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}

	m, err := backup.Backup(context.Background(), layout, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(*output)
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s (%d avatars)\n", *output, len(m.Avatars))
}
