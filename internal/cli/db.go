package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/store"
)

// dbFlags are the database flags shared by the inspection commands.
type dbFlags struct {
	Database string
	Driver   string
}

func (f *dbFlags) bind(cmd *cobra.Command, required bool) {
	cmd.Flags().StringVar(&f.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&f.Driver, "driver", config.DefaultDriver, "database/sql driver (sqlite3|sqlite)")
	if required {
		_ = cmd.MarkFlagRequired("db")
	}
}

// open opens the database, wrapping failures as command errors.
func (f *dbFlags) open() (*store.Store, error) {
	st, err := store.Open(f.Database, store.WithDriver(f.Driver))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
