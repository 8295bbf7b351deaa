package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/smarthomecloud/backend/core"
	logsvc "github.com/smarthomecloud/backend/services/logger"
	"github.com/smarthomecloud/backend/storage/database"
	sqlxrepos "github.com/smarthomecloud/backend/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	zl, err := logsvc.NewZapLogger(conf.LogLevel, "console", conf.AppName+"-admin")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// set up DB
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()

	// start CLI
	cli := newCommandLine(db, sqlxrepos.NewUserRepository(db))
	if err = cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			color.New(color.FgRed).Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		stop()
		_ = db.Close()
		os.Exit(1)
	}
}
