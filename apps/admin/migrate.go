package main

import (
	"context"
	"errors"
)

var errNoDatabase = errors.New("migrations need a postgres database")

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return migrateFunc(ctx, cli.db, args[0], args[1:]...)
}
