// Command sd-archive writes one backup artifact set for the live database.
//
//	sd-archive <daily|weekly|monthly|manual>
//
// It prints the artifact prefix on stdout and exits 0, or reports the
// failure on stderr and exits 1.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/config"
	"github.com/dukerupert/servicedesk/internal/logging"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sd-archive <backup-type>")
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "sd-archive: %v\n", err)
		os.Exit(1)
	}
	// stdout carries the prefix, so logs go to stderr only.
	logger := logging.New(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	producer := archive.NewProducer(cfg.Database.Path, cfg.Backup.Dir, logger)
	prefix, err := producer.Produce(ctx, os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sd-archive: %v\n", err)
		stop()
		os.Exit(1)
	}
	fmt.Println(prefix)
}
