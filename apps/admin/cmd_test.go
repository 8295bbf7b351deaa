package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core/user"
	inmemdb "github.com/smarthomecloud/backend/storage/database/inmem"
	"github.com/smarthomecloud/backend/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	t.Helper()
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	usrRepo = inmemdb.NewUserRepository(inmemdb.Open())

	// start CLI
	return &commandLine{
		db:      sqlx.NewDb(sqlDB, "postgres"),
		usrRepo: usrRepo,
		out:     &bytes.Buffer{},
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var ran []string
	migrateFunc = func(ctx context.Context, db *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		ran = append(ran, command)
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(context.Background(), args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Equal(t, tt.wantErrStr, err.Error())
				}
			default:
				assert.NoError(t, err)
			}
		})
	}
	assert.Equal(t, []string{"up", "up-by-one", "up-to", "down", "down-to", "redo", "reset", "status", "version", "fix"}, ran)

	cli.db = nil
	assert.Equal(t, errNoDatabase, cli.run(context.Background(), []string{"admin", "migrate", "up"}))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe@test.io", "Old$ecret1", user.RoleHomeowner, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol" for "admin"`},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "--email", "lol@test.io"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "--email", "lol@test.io"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "--email", usr.Email}, extra: extra{pwd: "N3w$ecret"}},
		{name: "reset with mixed case email", args: []string{"resetpassword", "--email", " AWE@test.io "}, extra: extra{pwd: "N3w3r$ecret"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		pwd := ""
		if extra, ok := tt.extra.(extra); ok {
			pwd = extra.pwd
		}
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(context.Background(), args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tt.wantErrStr)
				}
			default:
				require.NoError(t, err)
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.NoError(t, refreshedUsr.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	tests := []cliTest{
		{name: "no email", args: []string{"adduser"}, wantErr: errHelp},
		{name: "bad role", args: []string{"adduser", "--email", "ops@test.io", "--role", "admin"}, extra: "Sup3r$ecret", wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "--email", "ops@test.io"}, wantErr: errHelp},
		{name: "positional args", args: []string{"adduser", "ops@test.io"}, wantErrStr: "unknown command"},
	}
	for _, tt := range tests {
		tt := tt
		pwd, _ := tt.extra.(string)
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(ctx, append([]string{"admin"}, tt.args...))
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
			} else if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErrStr)
			}
		})
	}

	// create, defaulting to cloud staff
	mockPassword("Sup3r$ecret")
	require.NoError(t, cli.run(ctx, []string{"admin", "adduser", "--email", "Ops@Test.io", "--name", "Ops"}))
	usr, err := usrRepo.GetUser(ctx, user.GetFilter{Email: "ops@test.io"})
	require.NoError(t, err)
	assert.Equal(t, "ops@test.io", usr.Email)
	assert.Equal(t, "Ops", usr.Name)
	assert.Equal(t, user.RoleCloudStaff, usr.Role)
	assert.Equal(t, user.AuthProviderLocal, usr.AuthProvider)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("Sup3r$ecret"))
	assert.Contains(t, cli.out.(*bytes.Buffer).String(), "user ops@test.io (cloud_staff) saved")

	// update reactivates, changes the role & keeps the name
	gone := testutil.CreateUser(t, usrRepo, "Gone", "gone@test.io", "Old$ecret1", user.RoleHomeowner, false)
	mockPassword("An0ther$ecret")
	require.NoError(t, cli.run(ctx, []string{"admin", "adduser", "--email", "gone@test.io", "--role", user.RoleIoTTeam}))
	usr, err = usrRepo.GetUser(ctx, user.GetFilter{ID: gone.ID})
	require.NoError(t, err)
	assert.Equal(t, "Gone", usr.Name)
	assert.Equal(t, user.RoleIoTTeam, usr.Role)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("An0ther$ecret"))
}
