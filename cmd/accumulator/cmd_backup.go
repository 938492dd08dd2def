package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/accumulator/internal/backup"
	"github.com/HerbHall/accumulator/internal/config"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: accumulator-backup-{timestamp}.tar.gz)")
	dbPath := fs.String("db", "", "history database to back up (default: history.path from config)")
	configFile := fs.String("config", "", "config file to read and include in the backup")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *dbPath == "" {
		settings, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
			os.Exit(1)
		}
		*dbPath = settings.History.Path
	}

	if *output == "" {
		*output = fmt.Sprintf("accumulator-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	if err := backup.Backup(context.Background(), *dbPath, *configFile, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
